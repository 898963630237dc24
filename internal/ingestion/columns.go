package ingestion

import (
	"fmt"

	"github.com/retail-agent/backend/internal/catalog"
)

type NumericKind int

const (
	NumericFloat NumericKind = iota + 1
	NumericInt
)

// ColumnConfig describes how a tabular file maps onto catalog fields. Names
// are assigned positionally and replace whatever header the file carries.
type ColumnConfig struct {
	Names    []string
	Required []string
	Numerics map[string]NumericKind
	IDField  string
	// Rename maps a name from Names to the catalog field it is stored under.
	Rename map[string]string
}

func (c ColumnConfig) Validate() error {
	if len(c.Names) == 0 {
		return fmt.Errorf("column config has no names")
	}

	seen := make(map[string]bool, len(c.Names))
	for _, name := range c.Names {
		if name == "" {
			return fmt.Errorf("column config has an empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
	}

	if !seen[c.IDField] {
		return fmt.Errorf("id field %q is not a column", c.IDField)
	}
	for _, name := range c.Required {
		if !seen[name] {
			return fmt.Errorf("required column %q is not a column", name)
		}
	}
	for name := range c.Numerics {
		if !seen[name] {
			return fmt.Errorf("numeric column %q is not a column", name)
		}
	}
	for from := range c.Rename {
		if !seen[from] {
			return fmt.Errorf("renamed column %q is not a column", from)
		}
	}
	return nil
}

// field returns the catalog field a column is stored under.
func (c ColumnConfig) field(name string) string {
	if to, ok := c.Rename[name]; ok {
		return to
	}
	return name
}

// StoredIDField is the catalog field that holds the natural id after renames.
func (c ColumnConfig) StoredIDField() string {
	return c.field(c.IDField)
}

// ColumnsFromSchema lays the columns out in schema field order. The id and
// name fields are required.
func ColumnsFromSchema(schema *catalog.Schema) ColumnConfig {
	cfg := ColumnConfig{
		Names:    schema.FieldNames(),
		Required: []string{schema.IDField},
		Numerics: map[string]NumericKind{},
		IDField:  schema.IDField,
	}
	if schema.NameField != "" && schema.NameField != schema.IDField {
		cfg.Required = append(cfg.Required, schema.NameField)
	}
	for _, f := range schema.Fields {
		switch f.Type {
		case catalog.FieldInteger:
			cfg.Numerics[f.Name] = NumericInt
		case catalog.FieldFloat:
			cfg.Numerics[f.Name] = NumericFloat
		}
	}
	return cfg
}

// DefaultColumns is the upload layout of a kind.
func DefaultColumns(kind catalog.Kind) (ColumnConfig, error) {
	schema := catalog.SchemaFor(kind)
	if schema == nil {
		return ColumnConfig{}, catalog.NewValidationError("kind", "unknown catalog kind %d", int(kind))
	}

	if kind == catalog.KindAccessory {
		// Accessory sheets carry the partner price column and no wholesale price.
		return ColumnConfig{
			Names: []string{
				"accessory_code", "accessory_name", "category", "properties",
				"lifecare_price", "trademark", "warranty", "inventory",
				"specifications", "image_url", "link",
			},
			Required: []string{"accessory_code", "accessory_name"},
			Numerics: map[string]NumericKind{
				"lifecare_price": NumericFloat,
				"inventory":      NumericInt,
			},
			IDField: "accessory_code",
			Rename:  map[string]string{"lifecare_price": "price"},
		}, nil
	}

	return ColumnsFromSchema(schema), nil
}
