package auth

import "strings"

// DeviceFingerprint extracts a coarse "browser/os" fingerprint from a
// user-agent string. It is a heuristic for suspicious-activity comparison,
// not an exhaustive parser: unknown agents collapse to "other/other" so
// exotic clients never trip the device check on their own.
func DeviceFingerprint(userAgent string) string {
	return BrowserFamily(userAgent) + "/" + OSFamily(userAgent)
}

// BrowserFamily returns the coarse browser family of a user-agent string.
// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
func BrowserFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		return "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox"):
		return "firefox"
	case strings.Contains(ua, "chrome"), strings.Contains(ua, "crios"):
		return "chrome"
	case strings.Contains(ua, "safari"):
		return "safari"
	case strings.Contains(ua, "curl"), strings.Contains(ua, "wget"):
		return "cli"
	default:
		return "other"
	}
}

// OSFamily returns the coarse operating-system family of a user-agent string.
// iOS is checked before macOS because iPad agents can contain "Mac OS X".
func OSFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "other"
	}
}
