package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xuri/excelize/v2"
)

// maxSourceBytes caps downloaded source size at 100MB.
const maxSourceBytes = 100 * 1024 * 1024

// SourceSpec describes one raw dataset: where it lives, how its descriptor
// payload is encoded, and optional column overrides.
type SourceSpec struct {
	Name        string
	Location    string // local path, http(s) URL, or s3://bucket/key
	Format      labelFormat
	Delimiter   string
	KeyColumn   string // optional: normalized header name, or #N (1-based)
	LabelColumn string // optional, ignored for the columns format
}

// RawTable is one parsed source file. Headers are normalized for column
// resolution; RawHeaders keep the file's own wording so indicator columns can
// become naturally worded labels. Rows are padded to header width.
type RawTable struct {
	Headers    []string
	RawHeaders []string
	Rows       [][]string
}

var (
	keyColumnCandidates   = []string{"SMILES"}
	labelColumnCandidates = []string{"ODOR", "DESCRIPTORS", "LABELS"}
)

// loadSource fetches and parses one dataset source into entity rows. The
// second return value is the raw row count before any deduplication.
func (w *Worker) loadSource(ctx context.Context, src SourceSpec) ([]EntityRow, int, error) {
	content, err := w.fetchSource(ctx, src.Location)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s source: %w", src.Name, err)
	}

	table, err := parseFile(sourceFileName(src.Location), content)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse %s source: %w", src.Name, err)
	}

	rows, err := extractTable(table, src)
	if err != nil {
		return nil, 0, err
	}

	log.Printf("[%s] parsed %d rows, %d columns from %s", src.Name, len(table.Rows), len(table.Headers), src.Location)
	return rows, len(table.Rows), nil
}

// fetchSource reads a source from local disk, HTTP(S), or S3.
func (w *Worker) fetchSource(ctx context.Context, location string) ([]byte, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return w.downloadFromS3(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return w.downloadFromURL(ctx, location)
	default:
		content, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to read source file: %w", err)
		}
		return content, nil
	}
}

// downloadFromURL downloads from an HTTP(S) location with up to 3 attempts
// and exponential backoff. 4xx responses are not retried.
func (w *Worker) downloadFromURL(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to download file: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("download failed with status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				break
			}
			continue
		}

		content, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read file content: %w", err)
			continue
		}
		return content, nil
	}
	return nil, lastErr
}

// downloadFromS3 fetches s3://bucket/key.
func (w *Worker) downloadFromS3(ctx context.Context, location string) ([]byte, error) {
	if w.s3Client == nil {
		return nil, fmt.Errorf("S3 source %q configured but S3 client is not initialized", location)
	}

	trimmed := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid S3 location %q, want s3://bucket/key", location)
	}

	out, err := w.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(parts[0]),
		Key:    aws.String(parts[1]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(io.LimitReader(out.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return content, nil
}

// sourceFileName extracts the file name used for format routing.
func sourceFileName(location string) string {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return path.Base(strings.TrimPrefix(location, "s3://"))
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		if u, err := url.Parse(location); err == nil {
			return path.Base(u.Path)
		}
		return path.Base(location)
	default:
		return filepath.Base(location)
	}
}

// parseFile parses CSV, TSV, or Excel content into a RawTable.
func parseFile(filename string, content []byte) (*RawTable, error) {
	lower := strings.ToLower(filename)

	if strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".tsv") {
		return parseCSV(content, strings.HasSuffix(lower, ".tsv"))
	}

	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return parseExcel(content)
	}

	return nil, fmt.Errorf("unsupported file type: %s", filename)
}

// parseCSV parses CSV or TSV content
func parseCSV(content []byte, isTSV bool) (*RawTable, error) {
	reader := csv.NewReader(bytes.NewReader(content))

	// Configure reader
	if isTSV {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // Sources ship ragged rows
	reader.ReuseRecord = false  // Important for data integrity

	allRows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	if len(allRows) == 0 {
		return nil, fmt.Errorf("empty CSV file")
	}

	return tableFromRows(allRows), nil
}

// parseExcel parses Excel content
func parseExcel(content []byte) (*RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in Excel file")
	}

	// Skip metadata sheets and find the data sheet
	skipSheets := map[string]bool{
		"info":     true,
		"metadata": true,
		"about":    true,
		"readme":   true,
		"notes":    true,
	}

	var sheetName string
	for _, sheet := range sheets {
		if !skipSheets[strings.ToLower(sheet)] {
			sheetName = sheet
			break
		}
	}

	// If all sheets are metadata, use the last one (likely has data)
	if sheetName == "" {
		sheetName = sheets[len(sheets)-1]
	}
	log.Printf("Reading Excel sheet %q", sheetName)

	allRows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel rows: %w", err)
	}

	if len(allRows) == 0 {
		return nil, fmt.Errorf("empty Excel file")
	}

	return tableFromRows(allRows), nil
}

// tableFromRows splits the header row off, normalizes it, and pads or trims
// every data row to header width.
func tableFromRows(allRows [][]string) *RawTable {
	rawHeaders := make([]string, len(allRows[0]))
	headers := make([]string, len(allRows[0]))
	for i, header := range allRows[0] {
		rawHeaders[i] = strings.TrimSpace(header)
		headers[i] = normalizeColumnName(header)
	}

	rows := allRows[1:]
	for i, row := range rows {
		if len(row) < len(headers) {
			for j := len(row); j < len(headers); j++ {
				rows[i] = append(rows[i], "")
			}
		} else if len(row) > len(headers) {
			rows[i] = row[:len(headers)]
		}
	}

	return &RawTable{Headers: headers, RawHeaders: rawHeaders, Rows: rows}
}

var nonAlnumRun = regexp.MustCompile(`[^A-Z0-9]+`)

// normalizeColumnName standardizes column names: uppercase, non-alphanumeric
// runs collapsed to underscores, known synonyms folded to canonical names.
func normalizeColumnName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = nonAlnumRun.ReplaceAllString(n, "_")
	n = strings.Trim(n, "_")

	aliases := map[string]string{
		"SMILES_STRING":    "SMILES",
		"CANONICAL_SMILES": "SMILES",
		"ISOMERIC_SMILES":  "SMILES",
		"ODOUR":            "ODOR",
		"ODOR_CHARACTER":   "ODOR",
		"ODOR_DESCRIPTORS": "DESCRIPTORS",
	}
	if v, ok := aliases[n]; ok {
		n = v
	}

	return n
}

// resolveColumn finds a column index: an explicit override first ("#N" is a
// 1-based position, anything else a header name), then the candidates in
// order.
func resolveColumn(headers []string, override string, candidates []string) (int, error) {
	if override != "" {
		if strings.HasPrefix(override, "#") {
			n, err := strconv.Atoi(strings.TrimPrefix(override, "#"))
			if err != nil || n < 1 || n > len(headers) {
				return -1, fmt.Errorf("column override %q is not a valid position among %d columns", override, len(headers))
			}
			return n - 1, nil
		}
		want := normalizeColumnName(override)
		for i, h := range headers {
			if h == want {
				return i, nil
			}
		}
		return -1, fmt.Errorf("column %q not found in headers %v", override, headers)
	}

	for _, candidate := range candidates {
		for i, h := range headers {
			if h == candidate {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("no candidate column %v found in headers %v", candidates, headers)
}

// extractTable converts one parsed table into entity rows according to the
// source's payload shape. Rows with an empty entity key are dropped; rows
// with an empty or malformed payload keep an empty label set.
func extractTable(table *RawTable, src SourceSpec) ([]EntityRow, error) {
	keyIdx, err := resolveColumn(table.Headers, src.KeyColumn, keyColumnCandidates)
	if err != nil {
		return nil, fmt.Errorf("%s: resolving entity key column: %w", src.Name, err)
	}

	labelIdx := -1
	if src.Format != formatColumns {
		labelIdx, err = resolveColumn(table.Headers, src.LabelColumn, labelColumnCandidates)
		if err != nil {
			return nil, fmt.Errorf("%s: resolving label column: %w", src.Name, err)
		}
	}

	rows := make([]EntityRow, 0, len(table.Rows))
	skipped := 0
	for _, row := range table.Rows {
		key := strings.TrimSpace(row[keyIdx])
		if key == "" {
			skipped++
			continue
		}

		var labels []string
		if src.Format == formatColumns {
			labels = indicatorLabels(table.RawHeaders, row, keyIdx)
		} else {
			labels = extractLabels(row[labelIdx], src.Format, src.Delimiter)
		}
		rows = append(rows, EntityRow{Key: key, Labels: NewLabelSet(labels...)})
	}

	if skipped > 0 {
		log.Printf("[%s] skipped %d rows with empty entity key", src.Name, skipped)
	}
	return rows, nil
}

// isTabularFile reports whether a file name looks like a parsable source.
func isTabularFile(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".csv") ||
		strings.HasSuffix(lower, ".xlsx") ||
		strings.HasSuffix(lower, ".xls") ||
		strings.HasSuffix(lower, ".tsv")
}
