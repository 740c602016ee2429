package email

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"money": formatMoney,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("January 2, 2006")
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

func loadTemplates() (*template.Template, error) {
	return template.New("email").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}

// formatMoney renders minor units, e.g. 6900 usd -> $69.00.
func formatMoney(amount int64, currency string) string {
	major := fmt.Sprintf("%d.%02d", amount/100, abs(amount%100))
	switch strings.ToLower(currency) {
	case "usd", "":
		return "$" + major
	case "eur":
		return "€" + major
	case "gbp":
		return "£" + major
	default:
		return major + " " + strings.ToUpper(currency)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
