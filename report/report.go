// Package report writes audit and inventory artifacts to disk and,
// optionally, to S3.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/musterops/muster/types"
)

// Timestamped returns a write-once artifact path like
// dir/base-20250115-093000.ext.
func Timestamped(dir, base, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.%s", base, time.Now().UTC().Format("20060102-150405"), ext))
}

// createOnce opens the path for writing, refusing to clobber an existing
// artifact.
func createOnce(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	f, err := createOnce(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

var recordsHeader = []string{
	"resource_type", "resource_id", "account_id", "account_name",
	"region", "estimated_monthly_cost", "timestamp",
}

// WriteRecordsCSV writes the record inventory as CSV.
func WriteRecordsCSV(path string, records []types.Record) error {
	f, err := createOnce(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(recordsHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			string(r.Kind), r.ID, r.AccountID, r.AccountName, r.Region,
			strconv.FormatFloat(r.MonthlyCost, 'f', 2, 64),
			r.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}

// WriteMarkdown writes pre-rendered markdown content.
func WriteMarkdown(path, content string) error {
	f, err := createOnce(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	return nil
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
th { background: #f0f0f0; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{.Generated}}</p>
<table>
<tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>
</body>
</html>
`))

// WriteHTML writes a static single-table HTML report.
func WriteHTML(path, title string, header []string, rows [][]string) error {
	f, err := createOnce(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	data := struct {
		Title     string
		Generated string
		Header    []string
		Rows      [][]string
	}{title, time.Now().UTC().Format(time.RFC3339), header, rows}

	if err := htmlTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("write html report: %w", err)
	}
	return nil
}

// S3API is the subset of the S3 client the uploader needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Upload pushes a written artifact to the report bucket under reports/<name>.
func Upload(ctx context.Context, client S3API, bucket, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := "reports/" + filepath.Base(path)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: awssdk.String(bucket),
		Key:    awssdk.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
