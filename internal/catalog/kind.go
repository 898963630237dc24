package catalog

import (
	"fmt"
	"strings"
)

// Kind is the closed set of catalog document kinds.
type Kind int

const (
	KindProduct Kind = iota + 1
	KindService
	KindAccessory
	KindFaq
)

func Kinds() []Kind {
	return []Kind{KindProduct, KindService, KindAccessory, KindFaq}
}

func (k Kind) String() string {
	switch k {
	case KindProduct:
		return "product"
	case KindService:
		return "service"
	case KindAccessory:
		return "accessory"
	case KindFaq:
		return "faq"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool {
	return k >= KindProduct && k <= KindFaq
}

// ParseKind accepts the singular or plural name in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "product", "products":
		return KindProduct, nil
	case "service", "services":
		return KindService, nil
	case "accessory", "accessories":
		return KindAccessory, nil
	case "faq", "faqs":
		return KindFaq, nil
	}
	return 0, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown catalog kind %q", s)}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid catalog kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
