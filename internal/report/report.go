package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxreport/internal/analysis"
	"fxreport/internal/rates"
)

// Header is the fixed column order of the deviation report.
var Header = []string{"currency", "current_date", "max_deviation_date", "max_deviation_value"}

const contentTypeCSV = "text/csv; charset=utf-8"

// Artifact is a fully written report ready for delivery.
type Artifact struct {
	Name        string
	Date        time.Time
	Path        string
	ContentType string
	Data        []byte
}

// Encode serialises results as CSV in the order given.
func Encode(results []analysis.Result) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(Header); err != nil {
		return nil, err
	}
	for _, res := range results {
		record := []string{
			res.Currency,
			rates.FormatDate(res.CurrentDate),
			rates.FormatDate(res.MaxDeviationDate),
			res.MaxDeviationValue.String(),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Exporter writes report artifacts into a directory.
type Exporter struct {
	dir     string
	pattern string
}

// NewExporter returns an exporter writing into dir. pattern receives the run date
// (YYYY-MM-DD) through fmt.Sprintf.
func NewExporter(dir, pattern string) *Exporter {
	if pattern == "" {
		pattern = "max_deviation_%s.csv"
	}
	return &Exporter{dir: dir, pattern: pattern}
}

// Export encodes results and writes them durably. The file becomes visible under its
// final name only once completely written.
func (e *Exporter) Export(results []analysis.Result, date time.Time) (Artifact, error) {
	data, err := Encode(results)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode report: %w", err)
	}

	name := fmt.Sprintf(e.pattern, rates.FormatDate(date))
	path := filepath.Join(e.dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return Artifact{}, fmt.Errorf("write report %s: %w", path, err)
	}

	return Artifact{Name: name, Date: rates.Date(date), Path: path, ContentType: contentTypeCSV, Data: data}, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
