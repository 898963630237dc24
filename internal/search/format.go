package search

import (
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/retail-agent/backend/internal/catalog"
)

const contactUs = "contact us"

var placeholders = map[string]bool{"": true, "0": true, "0.0": true, "nan": true, "none": true}

// Formatter renders entries as text blocks for the conversational layer.
// The printer is safe for concurrent use once built.
type Formatter struct {
	printer *message.Printer
}

func NewFormatter() *Formatter {
	return &Formatter{printer: message.NewPrinter(language.English)}
}

// Format maps entries to blocks in order. Exactly one price line is
// printed: the wholesale price for wholesale conversations, the retail
// price otherwise.
func (f *Formatter) Format(schema *catalog.Schema, entries []catalog.Entry, wholesale bool) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = f.block(schema, e, wholesale)
	}
	return out
}

func (f *Formatter) block(schema *catalog.Schema, e catalog.Entry, wholesale bool) string {
	var lines []string
	add := func(label, value string) {
		lines = append(lines, label+": "+value)
	}

	if id := strings.TrimSpace(e.String(schema.IDField)); id != "" {
		add(labelOf(schema, schema.IDField), id)
	}
	if name := strings.TrimSpace(e.String(schema.NameField)); name != "" {
		add(labelOf(schema, schema.NameField), name)
	}

	for _, field := range schema.Fields {
		if !field.Display {
			continue
		}
		value := strings.TrimSpace(e.String(field.Name))
		if placeholders[strings.ToLower(value)] {
			continue
		}
		add(field.Label, value)
	}

	if schema.InventoryField != "" && e.Has(schema.InventoryField) {
		if n, ok := e.Int(schema.InventoryField); ok && n > 0 {
			lines = append(lines, f.printer.Sprintf("In stock (%d)", n))
		} else {
			lines = append(lines, "Out of stock")
		}
	}

	if schema.HasPrice() {
		if wholesale {
			add("Wholesale price", f.price(e, schema.WholesalePriceField))
		} else {
			add("Price", f.price(e, schema.PriceField))
		}
	}

	return strings.Join(lines, "\n")
}

func (f *Formatter) price(e catalog.Entry, field string) string {
	if field == "" {
		return contactUs
	}
	v, ok := e.Float(field)
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return contactUs
	}
	if v == math.Trunc(v) {
		return f.printer.Sprintf("%d", int64(v))
	}
	return f.printer.Sprintf("%.2f", v)
}

func labelOf(schema *catalog.Schema, field string) string {
	if fd, ok := schema.Field(field); ok && fd.Label != "" {
		return fd.Label
	}
	return field
}
