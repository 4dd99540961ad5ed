// Package certificate builds certificate-of-authenticity image URLs using
// CDN text-overlay transformations.
package certificate

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Field string

const (
	FieldProductName   Field = "product_name"
	FieldSKU           Field = "sku"
	FieldOrderNumber   Field = "order_number"
	FieldCertificateID Field = "certificate_id"
	FieldIssuedAt      Field = "issued_at"
	FieldOwner         Field = "owner"
)

type Layout struct {
	TemplateID string    `yaml:"template_id"`
	Overlays   []Overlay `yaml:"overlays"`
}

// Overlay is one positional text directive. Overlays are applied in order.
type Overlay struct {
	Field     Field  `yaml:"field"`
	Prefix    string `yaml:"prefix"`
	Font      string `yaml:"font"`
	Size      int    `yaml:"size"`
	Style     string `yaml:"style"`
	Color     string `yaml:"color"`
	Gravity   string `yaml:"gravity"`
	X         int    `yaml:"x"`
	Y         int    `yaml:"y"`
	MaxLength int    `yaml:"max_length"`
}

var (
	hexColorPattern = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)
	fontPattern     = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)
	knownGravity    = map[string]struct{}{
		"north": {}, "south": {}, "east": {}, "west": {}, "center": {},
		"north_east": {}, "north_west": {}, "south_east": {}, "south_west": {},
	}
	knownFields = map[Field]struct{}{
		FieldProductName: {}, FieldSKU: {}, FieldOrderNumber: {},
		FieldCertificateID: {}, FieldIssuedAt: {}, FieldOwner: {},
	}
)

// DefaultLayout matches the stock certificate template artwork.
func DefaultLayout() Layout {
	return Layout{
		TemplateID: "coa_template.png",
		Overlays: []Overlay{
			{Field: FieldProductName, Font: "Playfair Display", Size: 56, Style: "bold", Color: "1A1A1A", Gravity: "north", Y: 380, MaxLength: 48},
			{Field: FieldSKU, Prefix: "SKU ", Font: "Montserrat", Size: 28, Color: "4A4A4A", Gravity: "north", Y: 470, MaxLength: 40},
			{Field: FieldOrderNumber, Prefix: "Order ", Font: "Montserrat", Size: 28, Color: "4A4A4A", Gravity: "north", Y: 515, MaxLength: 32},
			{Field: FieldOwner, Prefix: "Issued to ", Font: "Montserrat", Size: 28, Style: "italic", Color: "4A4A4A", Gravity: "north", Y: 560, MaxLength: 48},
			{Field: FieldCertificateID, Font: "Courier", Size: 24, Color: "8C6D1F", Gravity: "south", Y: 140, MaxLength: 32},
			{Field: FieldIssuedAt, Prefix: "Issued ", Font: "Montserrat", Size: 22, Color: "4A4A4A", Gravity: "south", Y: 100, MaxLength: 32},
		},
	}
}

// LoadLayout reads a YAML layout file. An empty path yields DefaultLayout.
func LoadLayout(path string) (Layout, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultLayout(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read certificate layout: %w", err)
	}
	return ParseLayout(content)
}

func ParseLayout(content []byte) (Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(content, &layout); err != nil {
		return Layout{}, fmt.Errorf("failed to parse certificate layout YAML: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

func (l Layout) Validate() error {
	if len(l.Overlays) == 0 {
		return fmt.Errorf("certificate layout must define at least one overlay")
	}

	for i, o := range l.Overlays {
		if _, ok := knownFields[o.Field]; !ok {
			return fmt.Errorf("overlay %d: unknown field %q", i, o.Field)
		}
		if !fontPattern.MatchString(o.Font) {
			return fmt.Errorf("overlay %d: font %q must be alphanumeric", i, o.Font)
		}
		if o.Size <= 0 {
			return fmt.Errorf("overlay %d: size must be positive", i)
		}
		if !hexColorPattern.MatchString(o.Color) {
			return fmt.Errorf("overlay %d: color %q must be a 6 digit hex value", i, o.Color)
		}
		if _, ok := knownGravity[o.Gravity]; !ok {
			return fmt.Errorf("overlay %d: unknown gravity %q", i, o.Gravity)
		}
		if o.Style != "" && !fontPattern.MatchString(o.Style) {
			return fmt.Errorf("overlay %d: style %q must be alphanumeric", i, o.Style)
		}
	}
	return nil
}
