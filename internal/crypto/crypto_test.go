package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestNewSealer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "missing key", key: "", wantErr: ErrMissingKey},
		{name: "invalid key length", key: "short", wantErr: ErrInvalidKey},
		{name: "valid key", key: strings.Repeat("k", 32)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sealer, err := NewSealer(tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if sealer == nil {
				t.Fatal("expected sealer instance")
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	sealer := mustSealer(t)
	binding := "0xAbC0000000000000000000000000000000000001"

	first, err := sealer.Seal("0xdeadbeef", binding)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	second, err := sealer.Seal("0xdeadbeef", binding)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if first == second {
		t.Fatal("expected unique nonces to produce different ciphertexts")
	}
	if !strings.HasPrefix(first, "v1.") {
		t.Fatalf("expected versioned ciphertext, got %q", first)
	}

	plaintext, err := sealer.Open(first, binding)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if plaintext != "0xdeadbeef" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func TestOpenRejectsWrongBinding(t *testing.T) {
	t.Parallel()

	sealer := mustSealer(t)
	sealed, err := sealer.Seal("mnemonic words", "wallet-a")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	if _, err := sealer.Open(sealed, "wallet-b"); err == nil {
		t.Fatal("expected error when opening with a different binding")
	}
}

func TestOpenRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	sealer := mustSealer(t)

	tests := []struct {
		name    string
		sealed  string
		wantErr error
	}{
		{name: "missing prefix", sealed: "abc", wantErr: ErrUnknownFormat},
		{name: "too short", sealed: "v1.AAAA", wantErr: ErrCiphertextTooShort},
		{name: "bad base64", sealed: "v1.***"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := sealer.Open(tt.sealed, "binding")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func mustSealer(t *testing.T) Sealer {
	t.Helper()

	sealer, err := NewSealer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}
	return sealer
}
