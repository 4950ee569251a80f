// Package pipeline validates, de-duplicates and writes parsed products.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-amazon/models"
)

// MultiWriter fans every batch out to several writers in order.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter combines writers. Nil writers are ignored.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// NewDualWriter writes CSV to csvFilename and JSONL to jsonFilename.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	if csvFilename == jsonFilename {
		return nil, fmt.Errorf("dual output needs two files, got %q twice", csvFilename)
	}

	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, err
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		_ = csvWriter.Close()
		return nil, err
	}
	return NewMultiWriter(csvWriter, jsonWriter), nil
}

// DualJSONName derives the JSONL file name paired with a CSV output.
func DualJSONName(csvFilename string) string {
	return strings.TrimSuffix(csvFilename, ".csv") + ".json"
}

// Write stops at the first failing writer.
func (mw *MultiWriter) Write(products []*models.Product) error {
	for _, w := range mw.writers {
		if err := w.Write(products); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	errs := make([]error, 0, len(mw.writers))
	for _, w := range mw.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Validate checks every writer and joins their errors.
func (mw *MultiWriter) Validate() error {
	errs := make([]error, 0, len(mw.writers))
	for _, w := range mw.writers {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}
