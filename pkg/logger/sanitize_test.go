package logger

import "testing"

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"user@example.com", "u***@*******.com"},
		{"a@b.io", "a@*.io"},
		{"no-at-sign", "[invalid-email]"},
		{"@example.com", "[invalid-email]"},
		{"user@", "[invalid-email]"},
	}

	for _, tt := range tests {
		if got := SanitizedEmail(tt.email); got != tt.want {
			t.Errorf("SanitizedEmail(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"token=abc123", true},
		{"temp_token=xyz", true},
		{"two_factor_code=123456", true},
		{"email=user%40example.com", true},
		{"PASSWORD=hunter2", true},
		{"page=2&limit=50", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := SanitizeQueryString(tt.query); got != tt.want {
			t.Errorf("SanitizeQueryString(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
