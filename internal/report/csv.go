package report

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Header is the mandatory first row of a report file.
var Header = []string{"Repository", "Creation Date", "Last Update Date", "Last Read Date"}

// legacyColumns is the width of reports written before update and read
// tracking existed (Repository, Creation Date).
const legacyColumns = 2

// LoadCSV reads a persisted report. A missing file yields no records and no error.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer func() { _ = f.Close() }()

	return readCSV(f)
}

func readCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}
	width := len(header)

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report: %w", err)
		}
		if len(row) != width {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("report line %d: expected %d columns, got %d", line, width, len(row))
		}

		name := strings.TrimSpace(row[0])
		if name == "" {
			continue
		}
		rec := Record{Repository: name, CreationDate: decodeCell(row[1])}
		if width == len(Header) {
			rec.LastUpdate = decodeCell(row[2])
			rec.LastRead = decodeCell(row[3])
		}
		records = append(records, rec)
	}

	return records, nil
}

func checkHeader(header []string) error {
	if len(header) != len(Header) && len(header) != legacyColumns {
		return fmt.Errorf("unexpected report header %q", strings.Join(header, ","))
	}
	for i, col := range header {
		// Excel-saved files carry a BOM on the first cell.
		col = strings.TrimPrefix(strings.TrimSpace(col), "\ufeff")
		if !strings.EqualFold(col, Header[i]) {
			return fmt.Errorf("unexpected report column %d: %q, want %q", i+1, col, Header[i])
		}
	}
	return nil
}

// SaveCSV replaces the report at path with records. The previous file is left
// untouched unless the new one has been written completely.
func SaveCSV(path string, records []Record) error {
	return writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(Header); err != nil {
			return err
		}
		for _, r := range records {
			row := []string{
				r.Repository,
				encodeCell(r.CreationDate),
				encodeCell(r.LastUpdate),
				encodeCell(r.LastRead),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// writeAtomic writes through a temporary file in the target directory and
// renames it over path once it has been synced.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
