package certificate

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultMaxLength = 64

type Fields struct {
	ProductName   string    `json:"productName" validate:"required,max=200"`
	SKU           string    `json:"sku" validate:"max=100"`
	OrderNumber   string    `json:"orderNumber" validate:"max=64"`
	CertificateID string    `json:"certificateId" validate:"max=64"`
	Owner         string    `json:"owner" validate:"max=200"`
	IssuedAt      time.Time `json:"issuedAt"`
}

type Renderer struct {
	baseURL    string
	templateID string
	layout     Layout
}

// NewRenderer builds a renderer. templateID overrides the layout's template when set.
func NewRenderer(baseURL, templateID string, layout Layout) *Renderer {
	if templateID == "" {
		templateID = layout.TemplateID
	}
	return &Renderer{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		templateID: strings.Trim(strings.TrimSpace(templateID), "/"),
		layout:     layout,
	}
}

// BuildURL is a pure function of its input; the CDN renders the image lazily
// on first fetch.
func (r *Renderer) BuildURL(fields Fields) string {
	segments := make([]string, 0, len(r.layout.Overlays)+2)
	segments = append(segments, r.baseURL)

	for _, overlay := range r.layout.Overlays {
		value := fieldValue(fields, overlay.Field)
		if strings.TrimSpace(value) == "" {
			continue
		}
		text := SanitizeText(overlay.Prefix+value, overlay.MaxLength)
		if text == "" {
			continue
		}
		segments = append(segments, overlaySegment(overlay, text))
	}

	segments = append(segments, r.templateID)
	return strings.Join(segments, "/")
}

func overlaySegment(o Overlay, text string) string {
	font := strings.ReplaceAll(o.Font, " ", "%20") + "_" + strconv.Itoa(o.Size)
	if o.Style != "" {
		font += "_" + o.Style
	}

	var b strings.Builder
	b.WriteString("co_rgb:")
	b.WriteString(strings.ToUpper(o.Color))
	b.WriteString(",l_text:")
	b.WriteString(font)
	b.WriteString(":")
	b.WriteString(text)
	b.WriteString(",g_")
	b.WriteString(o.Gravity)
	b.WriteString(",x_")
	b.WriteString(strconv.Itoa(o.X))
	b.WriteString(",y_")
	b.WriteString(strconv.Itoa(o.Y))
	return b.String()
}

func fieldValue(fields Fields, field Field) string {
	switch field {
	case FieldProductName:
		return fields.ProductName
	case FieldSKU:
		return fields.SKU
	case FieldOrderNumber:
		return fields.OrderNumber
	case FieldCertificateID:
		return fields.CertificateID
	case FieldOwner:
		return fields.Owner
	case FieldIssuedAt:
		if fields.IssuedAt.IsZero() {
			return ""
		}
		return fields.IssuedAt.UTC().Format("2 January 2006")
	default:
		return ""
	}
}

// SanitizeText makes order-derived text safe inside a single URL path segment.
// Accents are folded, anything outside [A-Za-z0-9 #._-] is dropped, whitespace
// runs become one encoded space and '#' is percent-encoded.
func SanitizeText(value string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	// A chain keeps per-use buffers, so each call builds its own.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, value)
	if err != nil {
		folded = value
	}

	var kept strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			kept.WriteRune(r)
		case r == '#' || r == '.' || r == '_' || r == '-':
			kept.WriteRune(r)
		case unicode.IsSpace(r):
			kept.WriteRune(' ')
		}
	}

	collapsed := strings.Join(strings.Fields(kept.String()), " ")
	if len(collapsed) > maxLength {
		collapsed = strings.TrimSpace(collapsed[:maxLength])
	}

	escaped := strings.ReplaceAll(collapsed, "#", "%23")
	return strings.ReplaceAll(escaped, " ", "%20")
}

// NewAuthenticityID returns a fresh certificate identifier such as COA-1F2E3D4C5B6A.
func NewAuthenticityID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "COA-" + strings.ToUpper(raw[:12])
}
