// Package sink is the append-only delimited-file writer shared by the
// listing and enrichment phases. Files get a UTF-8 BOM and one header
// row on first write (spreadsheet compatibility) and are only ever
// appended to afterwards.
package sink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/partsradar/jdharvest/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type Sink struct {
	path   string
	header []string
	mu     sync.Mutex
}

func New(path string, header []string) *Sink {
	return &Sink{path: path, header: header}
}

func (s *Sink) Path() string {
	return s.path
}

// Append writes rows under the sink's lock. The critical section covers
// only the header check and the row writes; callers must never hold it
// across network I/O.
func (s *Sink) Append(rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needHeader, err := s.needsHeader()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer f.Close()

	if needHeader {
		if _, err := f.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(s.header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush rows: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync output file: %w", err)
	}
	return nil
}

// AppendRecords appends product records in the canonical column order.
func (s *Sink) AppendRecords(records []*models.ProductRecord) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Row())
	}
	return s.Append(rows)
}

func (s *Sink) needsHeader() (bool, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat output file: %w", err)
	}
	return info.Size() == 0, nil
}

// CompletedSKUs scans a delimited file's sku column and returns the set
// of identifiers already present. This is the completion ledger that
// makes the enrichment pass idempotent across restarts. A missing file
// means an empty ledger, not an error.
func CompletedSKUs(path string) (map[string]struct{}, error) {
	out := make(map[string]struct{})

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if peek, _ := br.Peek(3); len(peek) == 3 && peek[0] == utf8BOM[0] && peek[1] == utf8BOM[1] && peek[2] == utf8BOM[2] {
		br.Discard(3)
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		// Empty or truncated file: nothing completed yet.
		return out, nil
	}

	idx := -1
	for i, h := range header {
		if strings.TrimSpace(h) == "sku" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out, nil
	}

	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) <= idx {
			continue
		}
		if sku := models.TrimSKU(row[idx]); sku != "" {
			out[sku] = struct{}{}
		}
	}
	return out, nil
}

// ReadRecords loads every product record from a delimited file written
// by this sink. Used by the enrichment pass to build its task list.
func ReadRecords(path string) ([]*models.ProductRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if peek, _ := br.Peek(3); len(peek) == 3 && peek[0] == utf8BOM[0] && peek[1] == utf8BOM[1] && peek[2] == utf8BOM[2] {
		br.Discard(3)
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var records []*models.ProductRecord
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		records = append(records, models.RecordFromRow(header, row))
	}
	return records, nil
}
