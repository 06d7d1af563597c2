package actions

import (
	_ "embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/PabloGalante/equalizer/internal/domain"
)

//go:embed templates.tmpl
var templatesText string

// Consumer court claims add a flat compensation to the overcharge.
const courtCompensation = 50000

var printer = message.NewPrinter(language.English)

var templates = template.Must(template.New("actions").
	Option("missingkey=error").
	Funcs(template.FuncMap{
		"money": func(v float64) string { return printer.Sprintf("Rs %d", int64(math.Round(v))) },
		"lakh":  func(v float64) string { return fmt.Sprintf("Rs %.1f lakh", v/100000) },
		"pct":   func(v float64) string { return fmt.Sprintf("%.0f%%", v) },
	}).
	Parse(templatesText))

// letter is what every template renders against.
type letter struct {
	Facts         domain.CaseFacts
	Ref           string
	Overcharge    float64
	OverchargePct float64
	Claim         float64
	DaysOfWork    int
	Violations    []string
	HospitalTags  string
	AuthorityTags string
}

func newLetter(c domain.CaseFile) letter {
	over := c.Overcharge()
	return letter{
		Facts:         c.Facts,
		Ref:           c.Reference(),
		Overcharge:    over,
		OverchargePct: c.OverchargePct(),
		Claim:         over + courtCompensation,
		DaysOfWork:    int(over / 1667),
	}
}

func render(name string, data letter) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func hasTemplate(name string) bool {
	return templates.Lookup(name) != nil
}
