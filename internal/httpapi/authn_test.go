package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"plain", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"lowercase scheme", "bearer abc.def.ghi", "abc.def.ghi", false},
		{"padded", "  Bearer abc  ", "abc", false},
		{"empty", "", "", true},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", true},
		{"scheme only", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractBearerToken(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/info", "/v1/auth/login", "/v1/auth/refresh"} {
		if !isPublicPath(path) {
			t.Fatalf("expected %s to be public", path)
		}
	}
	for _, path := range []string{"/v1/auth/me", "/v1/auth/logout", "/v1/vms"} {
		if isPublicPath(path) {
			t.Fatalf("expected %s to require auth", path)
		}
	}
}
