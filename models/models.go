package models

import (
	"errors"
	"time"
)

// ErrSiteNotFound is returned when a site record is not found
var ErrSiteNotFound = errors.New("site not found")

// SiteRecord is one ingestion unit: everything the scraper collected for a
// single site. The scraper owns these records and replaces them wholesale on
// re-scrape; the indexing core only ever reads them.
type SiteRecord struct {
	SiteID    string    `json:"site_id"`
	SourceURL string    `json:"source_url"`
	Pages     []Page    `json:"pages"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Page is one crawled page of a site.
type Page struct {
	URL              string    `json:"url"`
	Title            string    `json:"title"`
	MetaDescription  string    `json:"meta_description"`
	H1               string    `json:"h1"`
	Excerpt          string    `json:"excerpt"`
	Depth            int       `json:"depth"`
	Images           []string  `json:"images,omitempty"`
	Products         []Product `json:"products,omitempty"`
	PromotedProducts []Product `json:"promoted_products,omitempty"`
	Footer           *Footer   `json:"footer,omitempty"`
}

// Product is a catalog item extracted from a page. Products listed under
// PromotedProducts carry IsPromoted=true; the two lists are a disjoint
// partition, the flag is never re-derived.
type Product struct {
	Name                string   `json:"name"`
	Price               string   `json:"price"`
	Description         string   `json:"description"`
	SKU                 string   `json:"sku"`
	ImageURL            string   `json:"image_url"`
	ProductURL          string   `json:"product_url"`
	IsPromoted          bool     `json:"is_promoted"`
	PromotionIndicators []string `json:"promotion_indicators,omitempty"`
}

// Footer is the optional footer block of a page.
type Footer struct {
	Text  string       `json:"text"`
	Links []FooterLink `json:"links,omitempty"`
}

// FooterLink is a single anchor extracted from a footer block.
type FooterLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}
