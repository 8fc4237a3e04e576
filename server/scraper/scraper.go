package scraper

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// DefaultYearClass is the year suffix PCPartPicker currently appends to its
// part-table cell classes (td__component-2025 and so on).
const DefaultYearClass = 2025

const maxFetchAttempts = 3

var domainPattern = regexp.MustCompile(`(?i)^https?://(?:[a-z]{2}\.)?pcpartpicker\.com`)

// ErrMissingElements is returned when a fetched page does not carry every
// element group the extraction needs. Partial extraction is never attempted.
var ErrMissingElements = errors.New("missing required HTML elements")

// ParseError wraps any failure raised while extracting fields from a page
// that passed the required-elements validation.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("HTML parsing error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var severityByLabel = map[string]NoteSeverity{
	"Problem:":    SeverityProblem,
	"Warning:":    SeverityWarning,
	"Note:":       SeverityNote,
	"Disclaimer:": SeverityDisclaimer,
}

// Scraper turns a PCPartPicker list URL into a Listing. Transient network
// failures (timeout, connection failure) are retried up to three times;
// payload and response failures surface immediately.
type Scraper struct {
	fetcher   Fetcher
	yearClass int
}

// New creates a Scraper on top of the given fetcher. yearClass selects the
// year-suffixed cell classes; zero means DefaultYearClass.
func New(fetcher Fetcher, yearClass int) *Scraper {
	if yearClass == 0 {
		yearClass = DefaultYearClass
	}
	return &Scraper{
		fetcher:   fetcher,
		yearClass: yearClass,
	}
}

// Scrape fetches and parses the list behind rawURL. Completed-build URLs
// (/b/<id>) are first resolved to their canonical list URL.
func (s *Scraper) Scrape(rawURL string) (*Listing, error) {
	domain := domainPattern.FindString(rawURL)
	if domain == "" {
		return nil, errors.Errorf("not a pcpartpicker URL: %s", rawURL)
	}

	listURL := rawURL
	if strings.Contains(rawURL, "pcpartpicker.com/b/") {
		resolved, err := s.resolveBuildURL(rawURL, domain)
		if err != nil {
			return nil, err
		}
		listURL = resolved
	}

	doc, err := s.fetchDocument(listURL)
	if err != nil {
		return nil, err
	}

	return s.parseListing(doc, domain)
}

// resolveBuildURL follows the header link of a completed-build page to the
// underlying list URL.
func (s *Scraper) resolveBuildURL(buildURL, domain string) (string, error) {
	doc, err := s.fetchDocument(buildURL)
	if err != nil {
		return "", err
	}

	href, ok := doc.Find("span.header-actions a").First().Attr("href")
	if !ok {
		return "", &ParseError{Err: errors.New("completed build page has no header list link")}
	}

	return domain + strings.TrimSpace(href), nil
}

// fetchDocument fetches url and parses it, retrying transient failures.
func (s *Scraper) fetchDocument(url string) (*goquery.Document, error) {
	var lastErr error
	for attempt := maxFetchAttempts; attempt > 0; attempt-- {
		body, err := s.fetcher.Fetch(url)
		if err != nil {
			switch KindOf(err) {
			case KindTimeout, KindConnectionFailed:
				lastErr = err
				continue
			default:
				return nil, err
			}
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, &FetchError{Kind: KindPayloadInvalid, URL: url, Err: err}
		}
		return doc, nil
	}

	return nil, errors.Wrapf(lastErr, "exhausted %d fetch attempts", maxFetchAttempts)
}

// parseListing validates and extracts the fixed field schema from a fetched
// list page. Extraction failures never escape as panics; they come back as
// *ParseError so the caller can render them.
func (s *Scraper) parseListing(doc *goquery.Document, domain string) (listing *Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			listing = nil
			err = &ParseError{Err: errors.Errorf("%v", r)}
		}
	}()

	components := doc.Find(fmt.Sprintf("td.td__component.td__component-%d", s.yearClass))
	names := doc.Find(fmt.Sprintf("td.td__name.td__name-%d", s.yearClass))
	prices := doc.Find(fmt.Sprintf("td.td__price.td__price-%d", s.yearClass))
	merchants := doc.Find("td.td__where")
	wattage := doc.Find("a.actionBox__actions--key-metric-breakdown").First()
	country := doc.Find("select.select--small.language-selector.pp-country-select").First()

	if components.Length() == 0 || names.Length() == 0 || prices.Length() == 0 ||
		merchants.Length() == 0 || wattage.Length() == 0 || country.Length() == 0 {
		return nil, ErrMissingElements
	}

	parts := make([]Part, 0, components.Length())
	for i := 0; i < components.Length(); i++ {
		part := parsePart(components.Eq(i), names.Eq(i), prices.Eq(i), merchants.Eq(i), domain)
		parts = append(parts, part)
	}

	notes := extractNotes(doc)

	selected := country.Find("option[selected]").First()
	if selected.Length() == 0 {
		return nil, &ParseError{Err: errors.New("country selector has no selected option")}
	}

	return &Listing{
		Parts:      parts,
		Notes:      notes,
		Wattage:    wattageFrom(wattage),
		TotalPrice: totalPriceFrom(prices),
		Country:    strings.TrimSpace(selected.Text()),
	}, nil
}

// parsePart zips one row of the part table: component cell, name cell, price
// cell and merchant cell at the same index describe one product.
func parsePart(component, name, price, merchant *goquery.Selection, domain string) Part {
	part := Part{
		ComponentType: strings.TrimSpace(component.Children().First().Text()),
	}
	part.Name, part.Link = parseNameAndLink(name, domain)
	part.Price, part.Merchant = parsePurchase(price, merchant)
	return part
}

func parseNameAndLink(name *goquery.Selection, domain string) (string, string) {
	first := name.Children().First()
	if first.Length() == 0 {
		return strings.TrimSpace(name.Text()), ""
	}

	text := strings.TrimSpace(first.Text())
	href, ok := name.Find("a").First().Attr("href")
	if ok && !strings.Contains(href, "#view_custom_part") {
		return text, domain + strings.TrimSpace(href)
	}

	// Custom parts carry a view anchor instead of a product page.
	return text, ""
}

// parsePurchase resolves the price cell against the merchant cell. Rows with
// a merchant logo use the second-to-last content node of the price cell as
// the price; rows without one are either unpriced or carry a custom price.
func parsePurchase(price, merchant *goquery.Selection) (string, string) {
	if img := merchant.Find("img[alt]").First(); img.Length() > 0 {
		alt, _ := img.Attr("alt")
		return secondToLastText(price), alt
	}

	contents := price.Contents()
	if contents.Length() < 2 || secondToLastText(price) == "No Prices" {
		return "No Prices Available", ""
	}

	last := strings.TrimSpace(contents.Eq(contents.Length() - 1).Text())
	if strings.TrimSpace(merchant.Text()) == "Purchased" {
		return last + " (Custom Price | Purchased)", ""
	}
	return last + " (Custom Price)", ""
}

func secondToLastText(cell *goquery.Selection) string {
	contents := cell.Contents()
	if contents.Length() < 2 {
		return ""
	}
	return strings.TrimSpace(contents.Eq(contents.Length() - 2).Text())
}

func extractNotes(doc *goquery.Document) []Note {
	var notes []Note
	for _, class := range []string{"problem", "warning", "info"} {
		doc.Find("p.note__text.note__text--" + class).Each(func(_ int, sel *goquery.Selection) {
			contents := sel.Contents()
			if contents.Length() < 2 {
				return
			}
			label := strings.TrimSpace(contents.Eq(0).Text())
			severity, ok := severityByLabel[label]
			if !ok {
				return
			}
			notes = append(notes, Note{
				Severity: severity,
				Text:     strings.TrimSpace(contents.Eq(1).Text()),
			})
		})
	}
	return notes
}

// wattageFrom reads the figure after the final colon of the key-metric
// breakdown anchor ("Estimated Wattage: 557W").
func wattageFrom(anchor *goquery.Selection) string {
	text := anchor.Text()
	idx := strings.LastIndex(text, ":")
	return strings.TrimSpace(text[idx+1:])
}

// totalPriceFrom reads the first content node of the final price cell, which
// PCPartPicker uses for the list total. The bare header literal "Price"
// means the list has no total.
func totalPriceFrom(prices *goquery.Selection) string {
	last := prices.Eq(prices.Length() - 1)
	price := strings.TrimSpace(last.Contents().Eq(0).Text())
	if price == "Price" {
		return "No Price Available"
	}
	return price
}
