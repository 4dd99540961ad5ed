package certificate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLayout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid layout",
			yaml: `
template_id: gold.png
overlays:
  - field: product_name
    font: Arial
    size: 40
    color: "000000"
    gravity: north
    y: 300
`,
		},
		{
			name:    "invalid yaml",
			yaml:    "invalid: yaml: content:",
			wantErr: true,
		},
		{
			name:    "no overlays",
			yaml:    "template_id: gold.png\n",
			wantErr: true,
		},
		{
			name: "unknown field",
			yaml: `
overlays:
  - field: password
    font: Arial
    size: 40
    color: "000000"
    gravity: north
`,
			wantErr: true,
		},
		{
			name: "font with separators",
			yaml: `
overlays:
  - field: sku
    font: "Arial,co_rgb:FF0000"
    size: 40
    color: "000000"
    gravity: north
`,
			wantErr: true,
		},
		{
			name: "bad color",
			yaml: `
overlays:
  - field: sku
    font: Arial
    size: 40
    color: red
    gravity: north
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseLayout([]byte(tt.yaml))
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoadLayout(t *testing.T) {
	t.Parallel()

	layout, err := LoadLayout("")
	if err != nil {
		t.Fatalf("expected default layout, got %v", err)
	}
	if err := layout.Validate(); err != nil {
		t.Fatalf("default layout is invalid: %v", err)
	}

	path := filepath.Join(t.TempDir(), "layout.yaml")
	content := "template_id: silver.png\noverlays:\n  - field: certificate_id\n    font: Courier\n    size: 20\n    color: \"333333\"\n    gravity: south\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write layout: %v", err)
	}

	loaded, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("load layout: %v", err)
	}
	if loaded.TemplateID != "silver.png" || len(loaded.Overlays) != 1 {
		t.Fatalf("unexpected layout: %+v", loaded)
	}

	if _, err := LoadLayout(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
