// Package models defines data structures for the scraper.
package models

import "time"

// FieldsToExport is the fixed, ordered field list used by every output writer.
var FieldsToExport = []string{
	"asin", "rank", "star", "reviews", "categories", "images", "author", "bylines",
	"title", "details", "feature_bullets", "book_description", "product_description",
}

// Byline is one contributor listed under the product title.
type Byline struct {
	Name         string `json:"name"`
	Contribution string `json:"contribution,omitempty"`
}

// Product is a parsed product detail page.
//
// Field order matches FieldsToExport so JSON output keeps the export order.
type Product struct {
	ASIN               string            `json:"asin"`
	Rank               int               `json:"rank"`
	Star               float64           `json:"star"`
	Reviews            int               `json:"reviews"`
	Categories         []string          `json:"categories"`
	Images             []string          `json:"images"`
	Author             string            `json:"author"`
	Bylines            []Byline          `json:"bylines"`
	Title              string            `json:"title"`
	Details            map[string]string `json:"details"`
	FeatureBullets     []string          `json:"feature_bullets"`
	BookDescription    string            `json:"book_description"`
	ProductDescription string            `json:"product_description"`
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	StartTime     time.Time
	EndTime       time.Time
	TotalCount    int
	AsinFiles     int
	ValidAsins    int
	InvalidAsins  int
	ParseFailures int
	ErrorCount    int
	FailedURLs    []string
	ErrorsByType  map[string]int
	RetryCount    int
	RequestCount  int
	ResponseCount int
}
