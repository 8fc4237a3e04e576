package scraper

// NoteSeverity classifies a compatibility note on a part list page.
type NoteSeverity string

const (
	SeverityProblem    NoteSeverity = "Problem"
	SeverityWarning    NoteSeverity = "Warning"
	SeverityNote       NoteSeverity = "Note"
	SeverityDisclaimer NoteSeverity = "Disclaimer"
)

// Part is one row of a PCPartPicker list: the component slot, the chosen
// product and its resolved purchase information.
type Part struct {
	ComponentType string
	Name          string
	Link          string // absolute product URL, empty when the row has no usable link
	Price         string
	Merchant      string // empty when the row has no merchant logo
}

// Note is a single compatibility note (problem, warning or informational).
type Note struct {
	Severity NoteSeverity
	Text     string
}

// Listing is the structured result of parsing one PCPartPicker list page.
// A Listing is only produced when every required element group was present;
// there is no partial extraction.
type Listing struct {
	Parts      []Part
	Notes      []Note
	Wattage    string // estimated total power draw, e.g. "557W"
	TotalPrice string
	Country    string
}
