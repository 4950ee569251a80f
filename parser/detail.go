package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-amazon/models"
)

// DetailParser parses desktop product detail pages with goquery.
//
// Parse is a pure function of the page body; the caller attaches the ASIN.
type DetailParser struct{}

// NewDetailParser returns the default detail page parser.
func NewDetailParser() *DetailParser {
	return &DetailParser{}
}

// Parse implements Parser.
func (DetailParser) Parse(page []byte) (*models.Product, error) {
	if len(bytes.TrimSpace(page)) == 0 {
		return nil, ErrEmptyPage
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := NormalizeText(doc.Find("#productTitle").First().Text())
	if title == "" {
		title = NormalizeText(doc.Find("#ebooksProductTitle").First().Text())
	}
	if title == "" {
		return nil, ErrNotDetailPage
	}

	details := parseDetails(doc)
	bylines := parseBylines(doc)

	product := &models.Product{
		Title:              title,
		Rank:               parseRank(doc, details),
		Star:               parseStar(doc),
		Reviews:            ParseCount(doc.Find("#acrCustomerReviewText").First().Text()),
		Categories:         parseCategories(doc),
		Images:             parseImages(doc),
		Bylines:            bylines,
		Details:            details,
		FeatureBullets:     parseFeatureBullets(doc),
		BookDescription:    parseBookDescription(doc),
		ProductDescription: NormalizeText(doc.Find("#productDescription").First().Text()),
	}
	if len(bylines) > 0 {
		product.Author = bylines[0].Name
	}
	return product, nil
}

func parseStar(doc *goquery.Document) float64 {
	if title, ok := doc.Find("#acrPopover").First().Attr("title"); ok {
		if star := ParseStar(title); star > 0 {
			return star
		}
	}
	if star := ParseStar(doc.Find("#acrPopover span.a-icon-alt").First().Text()); star > 0 {
		return star
	}
	return ParseStar(doc.Find(`span[data-hook="rating-out-of-text"]`).First().Text())
}

func parseRank(doc *goquery.Document, details map[string]string) int {
	if rank := ParseRank(doc.Find("#SalesRank").First().Text()); rank > 0 {
		return rank
	}
	for _, key := range rankKeys {
		if value, ok := details[key]; ok {
			if rank := ParseRank(value); rank > 0 {
				return rank
			}
		}
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		if strings.Contains(strings.ToLower(key), "best sellers rank") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if rank := ParseRank(details[key]); rank > 0 {
			return rank
		}
	}
	return 0
}

// rankKeys are the detail labels Amazon uses for the sales rank, most
// specific first.
var rankKeys = []string{"Best Sellers Rank", "Amazon Best Sellers Rank"}

func parseCategories(doc *goquery.Document) []string {
	var categories []string
	doc.Find("#wayfinding-breadcrumbs_feature_div ul li a").Each(func(_ int, s *goquery.Selection) {
		if text := NormalizeText(s.Text()); text != "" {
			categories = append(categories, text)
		}
	})
	return categories
}

func parseImages(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var images []string
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		images = append(images, src)
	}

	// data-a-dynamic-image is a JSON object keyed by image URL.
	for _, sel := range []string{"#landingImage", "#imgBlkFront", "#ebooksImgBlkFront"} {
		img := doc.Find(sel).First()
		if img.Length() == 0 {
			continue
		}
		if hires, ok := img.Attr("data-old-hires"); ok {
			add(hires)
		}
		if dynamic, ok := img.Attr("data-a-dynamic-image"); ok {
			var urls map[string]json.RawMessage
			if err := json.Unmarshal([]byte(dynamic), &urls); err == nil {
				keys := make([]string, 0, len(urls))
				for u := range urls {
					keys = append(keys, u)
				}
				sort.Strings(keys)
				for _, u := range keys {
					add(u)
				}
			}
		}
		if src, ok := img.Attr("src"); ok {
			add(src)
		}
	}

	doc.Find("#altImages li.item img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src)
	})
	return images
}

func parseBylines(doc *goquery.Document) []models.Byline {
	var bylines []models.Byline
	doc.Find("#bylineInfo .author").Each(func(_ int, s *goquery.Selection) {
		name := NormalizeText(s.Find("a.contributorNameID").First().Text())
		if name == "" {
			name = NormalizeText(s.Find("a").First().Text())
		}
		if name == "" {
			return
		}
		contribution := NormalizeText(s.Find(".contribution").First().Text())
		contribution = strings.Trim(contribution, "(), ")
		bylines = append(bylines, models.Byline{Name: name, Contribution: contribution})
	})
	if len(bylines) > 0 {
		return bylines
	}

	// Non-book pages carry a brand link instead of author spans.
	if brand := NormalizeText(doc.Find("a#bylineInfo").First().Text()); brand != "" {
		bylines = append(bylines, models.Byline{Name: brand})
	}
	return bylines
}

func parseDetails(doc *goquery.Document) map[string]string {
	details := make(map[string]string)
	put := func(key, value string) {
		key = strings.TrimRight(cleanDetail(key), " :")
		value = cleanDetail(value)
		if key == "" || value == "" {
			return
		}
		if _, ok := details[key]; !ok {
			details[key] = value
		}
	}

	doc.Find("#detailBullets_feature_div li, #detailBulletsWrapper_feature_div li").Each(func(_ int, s *goquery.Selection) {
		label := s.Find("span.a-text-bold").First()
		if label.Length() == 0 {
			return
		}
		value := strings.TrimPrefix(NormalizeText(label.Parent().Text()), NormalizeText(label.Text()))
		put(label.Text(), value)
	})

	doc.Find("#productDetails_detailBullets_sections1 tr, #productDetails_techSpec_section_1 tr").Each(func(_ int, s *goquery.Selection) {
		put(s.Find("th").First().Text(), s.Find("td").First().Text())
	})

	doc.Find("#detail-bullets .content li, #detail_bullets_id .content li").Each(func(_ int, s *goquery.Selection) {
		label := s.Find("b").First()
		if label.Length() == 0 {
			return
		}
		value := strings.TrimPrefix(NormalizeText(s.Text()), NormalizeText(label.Text()))
		put(label.Text(), value)
	})

	if rank := NormalizeText(doc.Find("#SalesRank").First().Text()); rank != "" {
		put("Best Sellers Rank", strings.TrimPrefix(strings.TrimPrefix(rank, "Amazon Best Sellers Rank:"), "Best Sellers Rank:"))
	}
	return details
}

func parseFeatureBullets(doc *goquery.Document) []string {
	var bullets []string
	doc.Find("#feature-bullets ul li span.a-list-item").Each(func(_ int, s *goquery.Selection) {
		if text := NormalizeText(s.Text()); text != "" {
			bullets = append(bullets, text)
		}
	})
	return bullets
}

func parseBookDescription(doc *goquery.Document) string {
	for _, sel := range []string{
		"#bookDescription_feature_div .a-expander-content",
		"#bookDescription_feature_div",
	} {
		if text := NormalizeText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// cleanDetail drops the bidi marks Amazon pads detail labels with.
func cleanDetail(text string) string {
	text = strings.NewReplacer("\u200e", "", "\u200f", "").Replace(text)
	return strings.TrimSpace(strings.TrimLeft(NormalizeText(text), ":"))
}
