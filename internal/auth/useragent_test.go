package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelsec/authcore/internal/auth"
)

func TestDeviceFingerprint(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{
			name:      "chrome on windows",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      "chrome/windows",
		},
		{
			name:      "firefox on macos",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
			want:      "firefox/macos",
		},
		{
			name:      "edge embeds chrome",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			want:      "edge/windows",
		},
		{
			name:      "opera embeds chrome",
			userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 OPR/106.0.0.0",
			want:      "opera/linux",
		},
		{
			name:      "safari on iphone",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			want:      "safari/ios",
		},
		{
			name:      "ipad reports mac os x but is ios",
			userAgent: "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			want:      "safari/ios",
		},
		{
			name:      "chrome on android",
			userAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			want:      "chrome/android",
		},
		{
			name:      "curl",
			userAgent: "curl/8.4.0",
			want:      "cli/other",
		},
		{
			name:      "unknown agent collapses to other",
			userAgent: "SomeBot/1.0",
			want:      "other/other",
		},
		{
			name:      "empty agent",
			userAgent: "",
			want:      "other/other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.DeviceFingerprint(tt.userAgent))
		})
	}
}
