package main

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchFlushInterval batches the burst of events a single copy or re-export
// produces into one run.
const watchFlushInterval = 2 * time.Second

// watchSourceDir triggers a curation run whenever a tabular file in dir is
// created or rewritten. Deployments that mount the raw datasets as files
// point WATCH_DIR at the mount instead of wiring a webhook.
func (w *Worker) watchSourceDir(ctx context.Context, dir string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("File watcher disabled: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		log.Printf("Failed to watch %s: %v", dir, err)
		return
	}
	log.Printf("Watching %s for source file changes", dir)

	ticker := time.NewTicker(watchFlushInterval)
	defer ticker.Stop()

	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isTabularFile(event.Name) {
				continue
			}
			pending[filepath.Base(event.Name)] = struct{}{}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			sort.Strings(changed)
			pending = make(map[string]struct{})
			log.Printf("Source files changed: %s", strings.Join(changed, ", "))

			runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
			result, err := w.runCuration(runCtx, "watch")
			cancel()
			if err != nil {
				log.Printf("Watch-triggered curation failed: %v", err)
				continue
			}
			log.Printf("Watch-triggered curation run %s completed", result.RunID)
		}
	}
}
