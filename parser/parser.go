// Package parser turns Amazon product detail pages into records and holds the
// ASIN format rules shared by the request generator and the crawler.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-amazon/models"
)

var (
	// ErrNotDetailPage is returned when a page carries no product title,
	// e.g. robot checks or the "dogs of Amazon" error page.
	ErrNotDetailPage = errors.New("parser: not a product detail page")
	// ErrEmptyPage is returned for an empty body.
	ErrEmptyPage = errors.New("parser: empty page")
)

// Parser parses a product detail page body.
type Parser interface {
	Parse(page []byte) (*models.Product, error)
}

// ValidateProduct ensures the crawler captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product missing title for %s", p.ASIN)
	}
	return nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeText collapses whitespace runs and trims the ends.
func NormalizeText(text string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

var leadingNumber = regexp.MustCompile(`[0-9][0-9,.]*`)

// ParseCount reads the first integer in text, ignoring thousands separators.
// "1,234 ratings" yields 1234.
func ParseCount(text string) int {
	m := leadingNumber.FindString(text)
	if m == "" {
		return 0
	}
	m = strings.NewReplacer(",", "", ".", "").Replace(m)
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

var starPattern = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s+(?:out of|von|sur|su|de|つ星のうち)`)

// ParseStar reads the average rating from texts like "4.5 out of 5 stars".
func ParseStar(text string) float64 {
	text = NormalizeText(text)
	if text == "" {
		return 0
	}
	raw := ""
	if m := starPattern.FindStringSubmatch(text); len(m) == 2 {
		raw = m[1]
	} else if m := leadingNumber.FindString(text); m != "" {
		raw = m
	}
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0
	}
	return value
}

var rankPattern = regexp.MustCompile(`#\s*([0-9][0-9,.]*)`)

// ParseRank reads the best sellers rank from texts like "#1,234 in Books".
func ParseRank(text string) int {
	m := rankPattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return 0
	}
	return ParseCount(m[1])
}
