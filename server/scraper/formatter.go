package scraper

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MaxSummaryLength is the hard cap on a rendered summary. Longer renderings
// are replaced wholesale by OverflowNotice, never truncated.
const MaxSummaryLength = 4096

// OverflowNotice replaces any summary whose rendering exceeds MaxSummaryLength.
const OverflowNotice = "Error in generating a list preview.\n" +
	"The rendered summary exceeds the maximum message length of 4096 characters."

const (
	powerIcon = "\U0001f50c"
	earthIcon = "\U0001f30e"
	priceIcon = "\U0001f4b8"
)

// Format renders a Listing as a single markdown summary: part list,
// compatibility notes, power draw, country and total price, in that order.
func Format(listing *Listing) string {
	parts := formatParts(listing.Parts)

	var b strings.Builder
	b.WriteString(parts)
	b.WriteString(formatNotes(listing.Notes))
	if strings.TrimSpace(parts) != "" && listing.Wattage != "" {
		fmt.Fprintf(&b, "%s **Total Estimated Power ->** %s\n", powerIcon, listing.Wattage)
	}
	if listing.Country != "" {
		fmt.Fprintf(&b, "%s**Country ->** %s\n", earthIcon, listing.Country)
	}
	b.WriteString(formatTotalPrice(listing))

	return EnforceLimit(b.String())
}

// EnforceLimit applies the platform length cap: anything over
// MaxSummaryLength is replaced by the fixed overflow notice.
func EnforceLimit(summary string) string {
	if utf8.RuneCountInString(summary) > MaxSummaryLength {
		return OverflowNotice
	}
	return summary
}

func formatParts(parts []Part) string {
	if len(parts) == 0 {
		return ""
	}

	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		purchase := part.Price
		if part.Merchant != "" {
			purchase += " @" + part.Merchant
		}

		product := part.Name
		if part.Link != "" {
			product = fmt.Sprintf("[%s](%s)", part.Name, part.Link)
		}

		lines = append(lines, fmt.Sprintf("- **%s ->** %s\n%s", part.ComponentType, purchase, product))
	}

	return fmt.Sprintf("**__PC PARTS__**\n%s\n", strings.Join(lines, "\n"))
}

func formatNotes(notes []Note) string {
	if len(notes) == 0 {
		return ""
	}

	lines := make([]string, 0, len(notes))
	for _, note := range notes {
		lines = append(lines, fmt.Sprintf("- **%s ->** %s", note.Severity, note.Text))
	}

	return fmt.Sprintf("\n**__COMPATIBILITY NOTES__**\n%s\n\n", strings.Join(lines, "\n"))
}

func formatTotalPrice(listing *Listing) string {
	if len(listing.Parts) == 0 {
		return "Empty"
	}

	return fmt.Sprintf("%s**Total Price ->** %s\n*After Rebates/Discounts/Taxes/Shipping*",
		priceIcon, listing.TotalPrice)
}

// RenderError converts a scrape failure into the user-facing text shown in
// place of a preview. The result is itself subject to the length cap.
func RenderError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingElements):
		return "HTML parsing error due to missing required HTML elements"
	default:
		return EnforceLimit(err.Error())
	}
}
