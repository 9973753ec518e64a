// Package document converts scraped site records into normalized, labeled
// text documents ready for embedding. Every field is emitted as a
// "LABEL: value" segment so the embedding model and the ranker can recognize
// structured signals (price, promotion, description) inside free text.
package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vitrine-studio/vitrine/models"
)

const (
	// Field separator between labeled segments of one document.
	Separator = " | "

	maxExcerptLen     = 1000
	maxDescriptionLen = 500
	maxFooterTextLen  = 800
	maxFooterLinks    = 5
)

// ProductKind distinguishes catalog products from promoted ones.
type ProductKind string

const (
	ProductNormal   ProductKind = "normal"
	ProductPromoted ProductKind = "promoted"
)

// Record types stored in metadata.
const (
	TypePage        = "page"
	TypeProduct     = "product"
	TypeFooter      = "footer"
	TypeFooterLinks = "footer_links"
	TypeSiteInfo    = "site_info"
)

// Metadata categories.
const (
	CategoryPageMetadata = "page_metadata"
	CategoryProduct      = "product"
	CategoryFooter       = "footer"
	CategoryMetadata     = "metadata"
)

// Metadata describes one indexed document. It is stored positionally aligned
// with the document text and the vector index row.
type Metadata struct {
	Type         string `json:"type"`
	SiteID       string `json:"site_id"`
	Category     string `json:"category"`
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	PageURL      string `json:"page_url,omitempty"`
	ProductName  string `json:"product_name,omitempty"`
	Price        string `json:"price,omitempty"`
	ProductType  string `json:"product_type,omitempty"`
	IsPromoted   bool   `json:"is_promoted,omitempty"`
	PageIndex    int    `json:"page_index"`
	ProductIndex *int   `json:"product_index,omitempty"`
	LinksCount   int    `json:"links_count,omitempty"`
}

// Record is one normalized (text, metadata) pair, the unit stored in the
// vector index.
type Record struct {
	Content  string
	Metadata Metadata
}

// SkipReason explains why a builder produced no record. Empty means the
// record was built.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipEmptyPage    SkipReason = "page has no usable fields"
	SkipEmptyProduct SkipReason = "product has no usable fields"
	SkipNoFooter     SkipReason = "page has no footer content"
)

// SiteStats aggregates the outcome of building all records for one site.
type SiteStats struct {
	Pages    int
	Products int
	Promoted int
	Footers  int
	Skipped  int
}

// BuildPageRecord builds the main document for a page: present text fields
// plus derived counters. Pages with none of the text fields are skipped so
// the index never carries a record made of counters alone.
func BuildPageRecord(page models.Page, pageIndex int, siteID string) (Record, SkipReason) {
	var parts []string
	if page.Title != "" {
		parts = append(parts, "TITRE_PAGE: "+page.Title)
	}
	if page.URL != "" {
		parts = append(parts, "URL: "+page.URL)
	}
	if page.MetaDescription != "" {
		parts = append(parts, "DESCRIPTION: "+page.MetaDescription)
	}
	if page.H1 != "" {
		parts = append(parts, "H1: "+page.H1)
	}
	if page.Excerpt != "" {
		parts = append(parts, "CONTENU: "+truncate(page.Excerpt, maxExcerptLen))
	}
	if len(parts) == 0 {
		return Record{}, SkipEmptyPage
	}
	parts = append(parts,
		fmt.Sprintf("PROFONDEUR: %d", page.Depth),
		fmt.Sprintf("NOMBRE_PRODUITS: %d", len(page.Products)),
		fmt.Sprintf("NOMBRE_IMAGES: %d", len(page.Images)),
	)
	return Record{
		Content: strings.Join(parts, Separator),
		Metadata: Metadata{
			Type:      TypePage,
			SiteID:    siteID,
			Category:  CategoryPageMetadata,
			URL:       page.URL,
			Title:     page.Title,
			PageIndex: pageIndex,
		},
	}, SkipNone
}

// BuildProductRecord builds the document for one product. Currency symbols
// are spelled out so the embedding model treats prices as words rather than
// punctuation. Products with no usable fields are skipped.
func BuildProductRecord(product models.Product, pageURL, siteID string, pageIndex, productIndex int, kind ProductKind) (Record, SkipReason) {
	var parts []string
	if product.Name != "" {
		parts = append(parts, "PRODUIT_NOM: "+product.Name)
	}
	if product.Price != "" {
		price := spellOutCurrency(product.Price)
		parts = append(parts, "PRIX: "+price)
		parts = append(parts, "PRIX_NUMERIQUE: "+price)
	}
	if product.Description != "" {
		parts = append(parts, "DESCRIPTION: "+truncate(product.Description, maxDescriptionLen))
	}
	if product.SKU != "" {
		parts = append(parts, "REFERENCE: "+product.SKU)
	}
	if product.ImageURL != "" {
		parts = append(parts, "IMAGE_DISPONIBLE: oui")
	}
	if product.ProductURL != "" {
		parts = append(parts, "URL_PRODUIT: "+product.ProductURL)
	}
	if len(parts) == 0 {
		return Record{}, SkipEmptyProduct
	}

	parts = append(parts, "TYPE_PRODUIT: "+string(kind))
	if kind == ProductPromoted {
		parts = append(parts, "PROMU: oui", "PRODUIT_EN_AVANT: oui")
		if len(product.PromotionIndicators) > 0 {
			parts = append(parts, "INDICATEURS_PROMOTION: "+strings.Join(product.PromotionIndicators, ", "))
		}
	} else {
		parts = append(parts, "PROMU: non")
	}
	parts = append(parts, "CATEGORIE: produit", "E_COMMERCE: oui")

	idx := productIndex
	return Record{
		Content: strings.Join(parts, Separator),
		Metadata: Metadata{
			Type:         TypeProduct,
			SiteID:       siteID,
			Category:     CategoryProduct,
			PageURL:      pageURL,
			ProductName:  product.Name,
			Price:        product.Price,
			ProductType:  string(kind),
			IsPromoted:   kind == ProductPromoted,
			PageIndex:    pageIndex,
			ProductIndex: &idx,
		},
	}, SkipNone
}

// BuildFooterRecords builds at most two documents for a page footer: one for
// the free text and one summarizing the first links. Pages without footer
// content produce nothing.
func BuildFooterRecords(page models.Page, pageIndex int, siteID string) []Record {
	if page.Footer == nil {
		return nil
	}
	var records []Record
	if page.Footer.Text != "" {
		records = append(records, Record{
			Content: "FOOTER: " + truncate(page.Footer.Text, maxFooterTextLen),
			Metadata: Metadata{
				Type:      TypeFooter,
				SiteID:    siteID,
				Category:  CategoryFooter,
				URL:       page.URL,
				PageIndex: pageIndex,
			},
		})
	}
	if len(page.Footer.Links) > 0 {
		links := page.Footer.Links
		if len(links) > maxFooterLinks {
			links = links[:maxFooterLinks]
		}
		var pairs []string
		for _, l := range links {
			pairs = append(pairs, l.Text+" -> "+l.URL)
		}
		records = append(records, Record{
			Content: "LIENS_FOOTER: " + strings.Join(pairs, Separator),
			Metadata: Metadata{
				Type:       TypeFooterLinks,
				SiteID:     siteID,
				Category:   CategoryFooter,
				URL:        page.URL,
				PageIndex:  pageIndex,
				LinksCount: len(page.Footer.Links),
			},
		})
	}
	return records
}

// BuildSiteInfoRecord builds the one-line summary document for a site.
func BuildSiteInfoRecord(site models.SiteRecord) Record {
	return Record{
		Content: fmt.Sprintf("SITE_%s: URL=%s%sPages=%d", site.SiteID, site.SourceURL, Separator, len(site.Pages)),
		Metadata: Metadata{
			Type:     TypeSiteInfo,
			SiteID:   site.SiteID,
			Category: CategoryMetadata,
		},
	}
}

// BuildSiteRecords runs every builder over one site record and returns the
// resulting documents in a stable order: site info, then per page its page
// record, normal products, promoted products and footer records. Malformed
// entries are skipped and counted, never fatal.
func BuildSiteRecords(site models.SiteRecord) ([]Record, SiteStats) {
	var stats SiteStats
	records := []Record{BuildSiteInfoRecord(site)}

	for i, page := range site.Pages {
		rec, skip := BuildPageRecord(page, i, site.SiteID)
		if skip == SkipNone {
			records = append(records, rec)
			stats.Pages++
		} else {
			stats.Skipped++
		}
		for j, product := range page.Products {
			rec, skip := BuildProductRecord(product, page.URL, site.SiteID, i, j, ProductNormal)
			if skip == SkipNone {
				records = append(records, rec)
				stats.Products++
			} else {
				stats.Skipped++
			}
		}
		for j, product := range page.PromotedProducts {
			rec, skip := BuildProductRecord(product, page.URL, site.SiteID, i, j, ProductPromoted)
			if skip == SkipNone {
				records = append(records, rec)
				stats.Promoted++
			} else {
				stats.Skipped++
			}
		}
		footers := BuildFooterRecords(page, i, site.SiteID)
		records = append(records, footers...)
		stats.Footers += len(footers)
	}
	return records, stats
}

// truncate caps s at max characters, never splitting a rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func spellOutCurrency(price string) string {
	price = strings.ReplaceAll(price, "€", " euro ")
	price = strings.ReplaceAll(price, "$", " dollar ")
	return price
}
