package intake

import (
	"strings"
	"unicode"
)

// Category is an elective affiliation a user may hold.
type Category int

const (
	CategoryUnion Category = iota + 1
	CategoryHealthPlan
	CategoryMutual
)

// canonicalOrder fixes the rendering order regardless of input order.
var canonicalOrder = []Category{CategoryUnion, CategoryHealthPlan, CategoryMutual}

// noneToken marks the mutually exclusive "no affiliation" choice in the lookup table.
const noneToken Category = 0

var affiliationTokens = map[string]Category{
	"1": CategoryUnion, "sindicato": CategoryUnion, "union": CategoryUnion, "gremio": CategoryUnion,
	"2": CategoryHealthPlan, "obra": CategoryHealthPlan, "social": CategoryHealthPlan, "os": CategoryHealthPlan,
	"health": CategoryHealthPlan, "plan": CategoryHealthPlan, "healthplan": CategoryHealthPlan,
	"3": CategoryMutual, "mutual": CategoryMutual,
	"0": noneToken, "ninguna": noneToken, "ninguno": noneToken, "none": noneToken, "nada": noneToken,
}

// Affiliation is the parsed affiliation selection.
type Affiliation struct {
	// Categories holds the selection in canonical order; empty when None.
	Categories []Category
	// Understood is false when no token was recognized and None was defaulted.
	Understood bool
}

// IsNone reports whether the selection is the None override.
func (a Affiliation) IsNone() bool {
	return len(a.Categories) == 0
}

// ParseAffiliation tokenizes raw by commas and whitespace and maps each token
// to a category. A None token clears everything collected so far and stops
// processing, so None always wins over other tokens in the same message.
func ParseAffiliation(raw string) Affiliation {
	tokens := strings.FieldsFunc(fold(raw), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",;/.+&", r)
	})

	selected := make(map[Category]bool)
	recognized := false
	none := false

	add := func(c Category) bool {
		recognized = true
		if c == noneToken {
			clear(selected)
			none = true
			return false
		}
		selected[c] = true
		return true
	}

scan:
	for _, tok := range tokens {
		if c, ok := affiliationTokens[tok]; ok {
			if !add(c) {
				break
			}
			continue
		}
		// "13" selects Union and Mutual, as long as every digit is known.
		if cats, ok := expandDigits(tok); ok {
			for _, c := range cats {
				if !add(c) {
					break scan
				}
			}
		}
	}

	if none || !recognized {
		return Affiliation{Understood: recognized}
	}

	out := Affiliation{Understood: true}
	for _, c := range canonicalOrder {
		if selected[c] {
			out.Categories = append(out.Categories, c)
		}
	}
	return out
}

func expandDigits(tok string) ([]Category, bool) {
	if len(tok) < 2 {
		return nil, false
	}
	cats := make([]Category, 0, len(tok))
	for _, r := range tok {
		if r < '0' || r > '9' {
			return nil, false
		}
		c, ok := affiliationTokens[string(r)]
		if !ok {
			return nil, false
		}
		cats = append(cats, c)
	}
	return cats, true
}

// AffiliationLabels are the display strings of each category.
type AffiliationLabels struct {
	Union      string
	HealthPlan string
	Mutual     string
	None       string
}

// DefaultAffiliationLabels returns the built-in labels.
func DefaultAffiliationLabels() AffiliationLabels {
	return AffiliationLabels{
		Union:      "Union",
		HealthPlan: "Health Plan",
		Mutual:     "Mutual",
		None:       "None",
	}
}

// Label returns the display string for c.
func (l AffiliationLabels) Label(c Category) string {
	switch c {
	case CategoryUnion:
		return l.Union
	case CategoryHealthPlan:
		return l.HealthPlan
	case CategoryMutual:
		return l.Mutual
	default:
		return l.None
	}
}

// Render returns the normalized string stored on the profile.
func (l AffiliationLabels) Render(a Affiliation) string {
	if a.IsNone() {
		return l.None
	}
	parts := make([]string, 0, len(a.Categories))
	for _, c := range a.Categories {
		parts = append(parts, l.Label(c))
	}
	return strings.Join(parts, ", ")
}
