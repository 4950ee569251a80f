package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-amazon/models"
)

// sink owns an output file and its buffered writer. The concrete writers
// embed it and add the record encoding.
type sink struct {
	mu   sync.Mutex
	kind string
	name string
	file *os.File
	buf  *bufio.Writer
}

func openSink(kind, filename string) (*sink, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename) //nolint:gosec // operator chosen output path
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &sink{kind: kind, name: filename, file: f, buf: bufio.NewWriter(f)}, nil
}

func (s *sink) flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s writer: %w", s.kind, err)
	}
	return nil
}

// Close flushes buffered data and closes the file.
func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.flush()
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.file = nil
	return err
}

// Validate reports an error when the output file is missing or empty. It
// works before and after Close.
func (s *sink) Validate() error {
	info, err := os.Stat(s.name)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", s.kind, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s file %s is empty", s.kind, s.name)
	}
	return nil
}

var errWriterClosed = errors.New("pipeline: writer closed")

// CSVWriter writes one row per product, header first.
type CSVWriter struct {
	*sink
	csv *csv.Writer
}

// NewCSVWriter creates filename and writes the FieldsToExport header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	s, err := openSink("csv", filename)
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{sink: s, csv: csv.NewWriter(s.buf)}
	if err := cw.writeRows([][]string{models.FieldsToExport}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// Write appends products to the CSV output.
func (cw *CSVWriter) Write(products []*models.Product) error {
	rows := make([][]string, 0, len(products))
	for _, product := range products {
		row, err := csvRecord(product)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return cw.writeRows(rows)
}

func (cw *CSVWriter) writeRows(rows [][]string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.file == nil {
		return errWriterClosed
	}

	if err := cw.csv.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	return cw.flush()
}

// csvRecord lays a product out in FieldsToExport order. String lists are
// comma joined; bylines and details are JSON encoded.
func csvRecord(p *models.Product) ([]string, error) {
	bylines, err := jsonCell(p.Bylines)
	if err != nil {
		return nil, fmt.Errorf("encode bylines for %s: %w", p.ASIN, err)
	}
	details, err := jsonCell(p.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details for %s: %w", p.ASIN, err)
	}

	return []string{
		p.ASIN,
		strconv.Itoa(p.Rank),
		strconv.FormatFloat(p.Star, 'f', -1, 64),
		strconv.Itoa(p.Reviews),
		strings.Join(p.Categories, ","),
		strings.Join(p.Images, ","),
		p.Author,
		bylines,
		p.Title,
		details,
		strings.Join(p.FeatureBullets, ","),
		p.BookDescription,
		p.ProductDescription,
	}, nil
}

func jsonCell[T any](v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s := string(b); s != "null" {
		return s, nil
	}
	return "", nil
}

// JSONWriter writes newline-delimited JSON, one product per line.
type JSONWriter struct {
	*sink
	enc *json.Encoder
}

// NewJSONWriter creates filename for JSONL output.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	s, err := openSink("json", filename)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(s.buf)
	enc.SetEscapeHTML(false)
	return &JSONWriter{sink: s, enc: enc}, nil
}

// Write appends products in JSONL format.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.file == nil {
		return errWriterClosed
	}

	for _, product := range products {
		if err := jw.enc.Encode(product); err != nil {
			return fmt.Errorf("encode json record %s: %w", product.ASIN, err)
		}
	}
	return jw.flush()
}
