package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"io/fs"
	"path"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var supportedLocales = []language.Tag{language.English, language.Russian}

var localeMatcher = language.NewMatcher(supportedLocales)

// Renderer renders message text from embedded templates.
// Templates are parsed once per supported locale so price and title
// helpers format for the recipient's language.
type Renderer struct {
	templates map[language.Tag]map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	files, err := fs.Glob(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	r := &Renderer{templates: make(map[language.Tag]map[string]*template.Template)}

	for _, tag := range supportedLocales {
		funcMap := funcsFor(tag)
		byName := make(map[string]*template.Template, len(files))

		for _, filename := range files {
			name := strings.TrimSuffix(path.Base(filename), ".tmpl")

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}
			byName[name] = tmpl
		}

		r.templates[tag] = byName
	}

	return r, nil
}

// Has reports whether a template with the given name exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[language.English][name]
	return ok
}

// Render executes template name for locale with data.
func (r *Renderer) Render(name, locale string, data any) (string, error) {
	tmpl, ok := r.templates[matchLocale(locale)][name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

func matchLocale(locale string) language.Tag {
	if locale == "" {
		return language.English
	}
	_, idx, _ := localeMatcher.Match(language.Make(locale))
	return supportedLocales[idx]
}

func funcsFor(tag language.Tag) template.FuncMap {
	printer := message.NewPrinter(tag)
	titleCaser := cases.Title(tag)

	return template.FuncMap{
		"escapeHTML": html.EscapeString,
		"title":      titleCaser.String,
		"lower":      strings.ToLower,
		"price": func(amount int64, code string) string {
			return formatPrice(printer, amount, code)
		},
		"number": func(n int64) string {
			return printer.Sprintf("%d", n)
		},
		"formatDate": func(t time.Time) string {
			return t.UTC().Format("02.01.2006")
		},
	}
}

// formatPrice renders whole currency units with locale digit grouping.
// Unknown currency codes are printed verbatim after the amount.
func formatPrice(p *message.Printer, amount int64, code string) string {
	digits := p.Sprintf("%d", amount)
	if code == "" {
		return digits
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return digits + " " + code
	}
	return digits + " " + p.Sprint(currency.Symbol(unit))
}
