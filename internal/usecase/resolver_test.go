package usecase

import (
	"errors"
	"testing"

	"content-key-service/config"
	"content-key-service/internal/domain"
)

func TestAssetIdentifierResolver_Prefix(t *testing.T) {
	r, err := NewAssetIdentifierResolver(config.LocatorPolicyPrefix, "skd://", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		locator string
		want    domain.AssetIdentifier
		wantErr bool
	}{
		{name: "simple", locator: "skd://abc123", want: "abc123"},
		{name: "prefix stripped once", locator: "skd://skd://abc", want: "skd://abc"},
		{name: "path kept", locator: "skd://host/asset-1", want: "host/asset-1"},
		{name: "empty", locator: "", wantErr: true},
		{name: "missing prefix", locator: "https://abc123", wantErr: true},
		{name: "prefix only", locator: "skd://", wantErr: true},
		{name: "unparseable", locator: "skd://%zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.locator)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrMalformedLocator) {
					t.Errorf("want ErrMalformedLocator, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAssetIdentifierResolver_Delimiter(t *testing.T) {
	r, err := NewAssetIdentifierResolver(config.LocatorPolicyDelimiter, "", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Resolve("skd://keys.example.com/v1/asset-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "asset-42" {
		t.Errorf("want asset-42, got %q", got)
	}

	for _, locator := range []string{"no-delimiter", "skd://keys.example.com/"} {
		if _, err := r.Resolve(locator); !errors.Is(err, domain.ErrMalformedLocator) {
			t.Errorf("Resolve(%q): want ErrMalformedLocator, got %v", locator, err)
		}
	}
}

func TestAssetIdentifierResolver_Pure(t *testing.T) {
	r, _ := NewAssetIdentifierResolver(config.LocatorPolicyPrefix, "skd://", "")
	first, _ := r.Resolve("skd://abc123")
	second, _ := r.Resolve("skd://abc123")
	if first != second {
		t.Errorf("resolve is not deterministic: %q != %q", first, second)
	}
}

func TestNewAssetIdentifierResolver_Invalid(t *testing.T) {
	tests := []struct {
		policy, prefix, delimiter string
	}{
		{"prefix", "", ""},
		{"delimiter", "", ""},
		{"regex", "skd://", "/"},
	}
	for _, tt := range tests {
		if _, err := NewAssetIdentifierResolver(tt.policy, tt.prefix, tt.delimiter); err == nil {
			t.Errorf("NewAssetIdentifierResolver(%q, %q, %q): expected error", tt.policy, tt.prefix, tt.delimiter)
		}
	}
}
