package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// writeArtifacts writes the curated table and label dictionary under the
// output directory and, when an output bucket is configured, uploads both
// under a per-run S3 prefix.
func (w *Worker) writeArtifacts(ctx context.Context, runID string, set *CuratedSet) (string, string, error) {
	if err := os.MkdirAll(w.config.OutputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	csvPath := filepath.Join(w.config.OutputDir, "curated.csv")
	if err := writeCuratedCSV(csvPath, set); err != nil {
		return "", "", fmt.Errorf("failed to write curated table: %w", err)
	}

	dictPath := filepath.Join(w.config.OutputDir, "label_dictionary.json")
	if err := writeLabelDictionary(dictPath, set.Index); err != nil {
		return "", "", fmt.Errorf("failed to write label dictionary: %w", err)
	}

	if w.config.OutputS3Bucket != "" {
		prefix := "curation/" + runID
		if err := w.uploadArtifact(ctx, prefix+"/curated.csv", csvPath, "text/csv"); err != nil {
			return "", "", err
		}
		if err := w.uploadArtifact(ctx, prefix+"/label_dictionary.json", dictPath, "application/json"); err != nil {
			return "", "", err
		}
		log.Printf("Uploaded artifacts to s3://%s/%s", w.config.OutputS3Bucket, prefix)
	}

	return csvPath, dictPath, nil
}

// writeCuratedCSV streams the entity table: a SMILES column followed by one
// 0/1 column per vocabulary label, columns in frozen index order.
func writeCuratedCSV(path string, set *CuratedSet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	writer := csv.NewWriter(f)
	header := append([]string{"SMILES"}, set.Index.Labels()...)
	if err := writer.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for i, row := range set.Entities {
		record[0] = row.Key
		for j, bit := range set.Matrix[i] {
			if bit == 1 {
				record[1+j] = "1"
			} else {
				record[1+j] = "0"
			}
		}
		if err := writer.Write(record); err != nil {
			f.Close()
			return fmt.Errorf("failed to write row for entity %q: %w", row.Key, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return f.Close()
}

// writeLabelDictionary writes the bidirectional label/index map.
func writeLabelDictionary(path string, index *LabelIndex) error {
	data, err := index.dictionaryJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// uploadArtifact puts one local file into the configured output bucket.
func (w *Worker) uploadArtifact(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for upload: %w", path, err)
	}
	defer f.Close()

	_, err = w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.config.OutputS3Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", w.config.OutputS3Bucket, key, err)
	}
	return nil
}
