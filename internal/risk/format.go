package risk

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var displayLanguage = language.BrazilianPortuguese

// FormatAmount renders a monetary value for display, e.g. "BRL 50.000,00".
// Unrecognised currency codes are shown as given.
func FormatAmount(value float64, code string) string {
	rounded, _ := decimal.NewFromFloat(value).Round(2).Float64()
	p := message.NewPrinter(displayLanguage)
	amount := p.Sprint(number.Decimal(rounded, number.Scale(2)))

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return amount
	}
	if unit, err := currency.ParseISO(code); err == nil {
		code = unit.String()
	}
	return code + " " + amount
}
