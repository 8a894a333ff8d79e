package inventory

import (
	"strings"

	"golang.org/x/text/cases"
)

// Categories suggested to clients. Free text is accepted as well.
var Categories = []string{
	"Dough & Flour",
	"Sauces",
	"Cheeses",
	"Meats",
	"Vegetables",
	"Toppings",
	"Spices & Herbs",
	"Packaging",
	"Beverages",
	"Cleaning Supplies",
	"Equipment",
	"Other",
}

// Units suggested to clients.
var Units = []string{
	"units", "kg", "g", "lbs", "oz", "liters", "ml", "gallons",
	"pack", "box", "case", "bottle", "can", "jar",
}

// AdjustmentReasons suggested to clients.
var AdjustmentReasons = []string{
	"Delivery Received",
	"Stock Count Correction",
	"Waste/Damage",
	"Theft/Loss",
	"Production Usage",
	"Transfer In",
	"Transfer Out",
	"Other",
}

// Catalog bundles the suggestion lists.
type Catalog struct {
	Categories        []string `json:"categories"`
	Units             []string `json:"units"`
	AdjustmentReasons []string `json:"adjustmentReasons"`
}

// DefaultCatalog returns copies of the suggestion lists.
func DefaultCatalog() Catalog {
	return Catalog{
		Categories:        append([]string(nil), Categories...),
		Units:             append([]string(nil), Units...),
		AdjustmentReasons: append([]string(nil), AdjustmentReasons...),
	}
}

// CanonicalCategory maps input matching a known category under Unicode case
// folding to its canonical spelling. Anything else is returned trimmed.
func CanonicalCategory(input string) string {
	trimmed := strings.TrimSpace(input)
	folded := cases.Fold().String(trimmed)
	for _, c := range Categories {
		if cases.Fold().String(c) == folded {
			return c
		}
	}
	return trimmed
}

// CanonicalUnit does the same for units.
func CanonicalUnit(input string) string {
	trimmed := strings.TrimSpace(input)
	folded := cases.Fold().String(trimmed)
	for _, u := range Units {
		if cases.Fold().String(u) == folded {
			return u
		}
	}
	return trimmed
}
