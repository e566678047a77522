package secret_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/secret"
)

func TestResolve(t *testing.T) {
	strong := strings.Repeat("k", secret.MinLength)

	tests := []struct {
		name    string
		raw     string
		env     string
		want    string
		wantErr error
	}{
		{"dev fallback", "", "development", secret.DevFallback, nil},
		{"test fallback", "", "test", secret.DevFallback, nil},
		{"local fallback case-insensitive", "", " Local ", secret.DevFallback, nil},
		{"dev keeps short explicit secret", "short", "dev", "short", nil},
		{"production strong", strong, "production", strong, nil},
		{"staging strong", strong, "staging", strong, nil},
		{"production missing", "", "production", "", sendgate.ErrMissingSecret},
		{"unknown env missing", "", "", "", sendgate.ErrMissingSecret},
		{"production dev fallback", secret.DevFallback, "production", "", sendgate.ErrDevSecretInProduction},
		{"production weak", "only-twenty-chars...", "production", "", sendgate.ErrWeakSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := secret.Resolve(tt.raw, tt.env)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if got != nil {
					t.Errorf("key = %q, want nil on error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_ErrorDoesNotLeakSecret(t *testing.T) {
	_, err := secret.Resolve("tiny-secret-value", "production")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "tiny-secret-value") {
		t.Errorf("error message leaks the secret: %v", err)
	}
}

func TestIsDevelopment(t *testing.T) {
	for _, env := range []string{"development", "dev", "local", "test", "TEST"} {
		if !secret.IsDevelopment(env) {
			t.Errorf("IsDevelopment(%q) = false", env)
		}
	}
	for _, env := range []string{"production", "staging", "prod", ""} {
		if secret.IsDevelopment(env) {
			t.Errorf("IsDevelopment(%q) = true", env)
		}
	}
}
