package catalog

type FieldType int

const (
	FieldKeyword FieldType = iota + 1
	FieldText
	FieldInteger
	FieldFloat
)

func (t FieldType) Numeric() bool {
	return t == FieldInteger || t == FieldFloat
}

type Field struct {
	Name  string
	Label string
	Type  FieldType
	// Display marks attributes the formatter prints between the name and
	// the availability line.
	Display bool
}

// MatchMode decides how a search criterion contributes to the structured query.
type MatchMode int

const (
	// ModeNameTiers ranks exact keyword over phrase over token matches.
	ModeNameTiers MatchMode = iota + 1
	// ModeMustMatch requires a token match when the criterion is given.
	ModeMustMatch
	// ModeShouldMatch only boosts.
	ModeShouldMatch
	// ModeAllTermsShould boosts entries containing every token.
	ModeAllTermsShould
	// ModeExactFilter requires the keyword value verbatim without scoring.
	ModeExactFilter
)

type Criterion struct {
	Name  string
	Field string
	Mode  MatchMode
	Boost float64
}

type WeightedField struct {
	Field  string
	Weight float64
}

// Schema is the field table of one kind. Ingestion, index mappings, query
// construction and formatting are all driven by it.
type Schema struct {
	Kind                Kind
	Index               string
	IDField             string
	NameField           string
	PriceField          string
	WholesalePriceField string
	InventoryField      string
	// Fields are in spreadsheet column order.
	Fields   []Field
	Criteria []Criterion
	Fallback []WeightedField
}

func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Schema) Criterion(name string) (Criterion, bool) {
	for _, c := range s.Criteria {
		if c.Name == name {
			return c, true
		}
	}
	return Criterion{}, false
}

func (s *Schema) HasPrice() bool {
	return s.PriceField != ""
}

func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// SchemaFor returns the schema of kind, or nil for an invalid kind.
func SchemaFor(kind Kind) *Schema {
	return schemas[kind]
}

func (k Kind) Schema() *Schema {
	return SchemaFor(k)
}

var schemas = map[Kind]*Schema{
	KindProduct: {
		Kind:                KindProduct,
		Index:               "products",
		IDField:             "product_code",
		NameField:           "model",
		PriceField:          "price",
		WholesalePriceField: "wholesale_price",
		InventoryField:      "inventory",
		Fields: []Field{
			{Name: "product_code", Label: "Code", Type: FieldKeyword},
			{Name: "model", Label: "Model", Type: FieldText},
			{Name: "color", Label: "Color", Type: FieldText, Display: true},
			{Name: "capacity", Label: "Capacity", Type: FieldText, Display: true},
			{Name: "warranty", Label: "Warranty", Type: FieldText, Display: true},
			{Name: "condition", Label: "Condition", Type: FieldText, Display: true},
			{Name: "device_type", Label: "Device type", Type: FieldText, Display: true},
			{Name: "battery_health", Label: "Battery", Type: FieldText, Display: true},
			{Name: "price", Label: "Price", Type: FieldFloat},
			{Name: "wholesale_price", Label: "Wholesale price", Type: FieldFloat},
			{Name: "inventory", Label: "Inventory", Type: FieldInteger},
			{Name: "note", Label: "Note", Type: FieldText, Display: true},
		},
		Criteria: []Criterion{
			{Name: "model", Field: "model", Mode: ModeNameTiers},
			{Name: "color", Field: "color", Mode: ModeMustMatch},
			{Name: "capacity", Field: "capacity", Mode: ModeMustMatch},
			{Name: "condition", Field: "condition", Mode: ModeShouldMatch, Boost: 1},
			{Name: "device_type", Field: "device_type", Mode: ModeShouldMatch, Boost: 1},
		},
		Fallback: []WeightedField{
			{Field: "model", Weight: 3},
			{Field: "device_type", Weight: 2},
			{Field: "color", Weight: 1},
			{Field: "capacity", Weight: 1},
			{Field: "condition", Weight: 1},
		},
	},
	KindService: {
		Kind:                KindService,
		Index:               "services",
		IDField:             "service_code",
		NameField:           "service_name",
		PriceField:          "price",
		WholesalePriceField: "wholesale_price",
		Fields: []Field{
			{Name: "service_code", Label: "Code", Type: FieldKeyword},
			{Name: "service_name", Label: "Service", Type: FieldText},
			{Name: "product_brand", Label: "Brand", Type: FieldText, Display: true},
			{Name: "product_name", Label: "Product", Type: FieldText, Display: true},
			{Name: "product_color", Label: "Color", Type: FieldText, Display: true},
			{Name: "service_type", Label: "Service type", Type: FieldText, Display: true},
			{Name: "price", Label: "Price", Type: FieldFloat},
			{Name: "wholesale_price", Label: "Wholesale price", Type: FieldFloat},
			{Name: "warranty", Label: "Warranty", Type: FieldText, Display: true},
			{Name: "note", Label: "Note", Type: FieldText, Display: true},
		},
		Criteria: []Criterion{
			{Name: "service_name", Field: "service_name", Mode: ModeNameTiers},
			{Name: "product_name", Field: "product_name", Mode: ModeExactFilter},
			{Name: "service_type", Field: "service_type", Mode: ModeShouldMatch, Boost: 5},
			{Name: "product_brand", Field: "product_brand", Mode: ModeShouldMatch, Boost: 2},
		},
		Fallback: []WeightedField{
			{Field: "service_name", Weight: 3},
			{Field: "service_type", Weight: 2},
			{Field: "product_name", Weight: 1},
		},
	},
	KindAccessory: {
		Kind:                KindAccessory,
		Index:               "accessories",
		IDField:             "accessory_code",
		NameField:           "accessory_name",
		PriceField:          "price",
		WholesalePriceField: "wholesale_price",
		InventoryField:      "inventory",
		Fields: []Field{
			{Name: "accessory_code", Label: "Code", Type: FieldKeyword},
			{Name: "accessory_name", Label: "Name", Type: FieldText},
			{Name: "category", Label: "Category", Type: FieldText, Display: true},
			{Name: "properties", Label: "Properties", Type: FieldText, Display: true},
			{Name: "price", Label: "Price", Type: FieldFloat},
			{Name: "wholesale_price", Label: "Wholesale price", Type: FieldFloat},
			{Name: "trademark", Label: "Brand", Type: FieldText, Display: true},
			{Name: "warranty", Label: "Warranty", Type: FieldText, Display: true},
			{Name: "inventory", Label: "Inventory", Type: FieldInteger},
			{Name: "specifications", Label: "Specifications", Type: FieldText, Display: true},
			{Name: "image_url", Label: "Image", Type: FieldKeyword, Display: true},
			{Name: "link", Label: "Link", Type: FieldKeyword, Display: true},
		},
		Criteria: []Criterion{
			{Name: "accessory_name", Field: "accessory_name", Mode: ModeNameTiers},
			{Name: "category", Field: "category", Mode: ModeShouldMatch, Boost: 5},
			{Name: "properties", Field: "properties", Mode: ModeAllTermsShould, Boost: 1},
			{Name: "trademark", Field: "trademark", Mode: ModeShouldMatch, Boost: 2},
		},
		Fallback: []WeightedField{
			{Field: "accessory_name", Weight: 3},
			{Field: "category", Weight: 2},
			{Field: "properties", Weight: 1},
			{Field: "trademark", Weight: 1},
		},
	},
	KindFaq: {
		Kind:      KindFaq,
		Index:     "faqs",
		IDField:   "faq_id",
		NameField: "question",
		Fields: []Field{
			{Name: "faq_id", Label: "Code", Type: FieldKeyword},
			{Name: "question", Label: "Question", Type: FieldText},
			{Name: "answer", Label: "Answer", Type: FieldText, Display: true},
		},
		Criteria: []Criterion{
			{Name: "question", Field: "question", Mode: ModeNameTiers},
		},
		Fallback: []WeightedField{
			{Field: "question", Weight: 3},
			{Field: "answer", Weight: 1},
		},
	},
}
