package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// categoryIcons is the single category → emoji table used by every screen.
// Keys are lower-case and accent-free.
var categoryIcons = map[string]string{
	"alimentacao":   "🍔",
	"mercado":       "🛒",
	"transporte":    "🚗",
	"moradia":       "🏠",
	"aluguel":       "🏠",
	"saude":         "💊",
	"educacao":      "📚",
	"lazer":         "🎮",
	"viagem":        "✈️",
	"vestuario":     "👕",
	"contas":        "🧾",
	"assinaturas":   "📺",
	"salario":       "💰",
	"freelance":     "💼",
	"investimento":  "📈",
	"investimentos": "📈",
	"presente":      "🎁",
	"pets":          "🐶",
	"outros":        "📦",
}

const defaultCategoryIcon = "💸"

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CategoryIcon returns the display icon for a free-form category label.
func CategoryIcon(category string) string {
	key, _, err := transform.String(accentStripper, strings.ToLower(strings.TrimSpace(category)))
	if err != nil {
		key = strings.ToLower(strings.TrimSpace(category))
	}
	if icon, ok := categoryIcons[key]; ok {
		return icon
	}
	return defaultCategoryIcon
}
