package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

var (
	botKeywords    = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "facebookexternalhit", "slurp"}
	mobileKeywords = []string{"mobile", "iphone", "ipod", "blackberry", "windows phone", "opera mini", "iemobile"}
	tabletKeywords = []string{"tablet", "ipad", "android", "kindle", "silk", "playbook"}
)

// DetectDeviceType classifies a user agent as bot, mobile, tablet, desktop
// or unknown. Mobile patterns are checked before tablet ones.
func DetectDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return "unknown"
	}

	for _, keyword := range botKeywords {
		if strings.Contains(ua, keyword) {
			return "bot"
		}
	}

	for _, keyword := range mobileKeywords {
		if strings.Contains(ua, keyword) {
			return "mobile"
		}
	}

	for _, keyword := range tabletKeywords {
		if strings.Contains(ua, keyword) {
			return "tablet"
		}
	}

	if strings.Contains(ua, "mozilla") || strings.Contains(ua, "windows") || strings.Contains(ua, "macintosh") || strings.Contains(ua, "x11") {
		return "desktop"
	}

	return "unknown"
}

func DetectBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)

	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge/"):
		return "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "samsungbrowser"):
		return "Samsung Internet"
	case strings.Contains(ua, "chrome/") || strings.Contains(ua, "crios/"):
		return "Chrome"
	case strings.Contains(ua, "firefox/") || strings.Contains(ua, "fxios/"):
		return "Firefox"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	case strings.Contains(ua, "msie") || strings.Contains(ua, "trident/"):
		return "Internet Explorer"
	}

	return "Other"
}

func DetectOS(userAgent string) string {
	ua := strings.ToLower(userAgent)

	switch {
	case ua == "":
		return "Unknown"
	case strings.Contains(ua, "windows phone"):
		return "Windows Phone"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "cros"):
		return "ChromeOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	}

	return "Other"
}

// ReferrerDomain returns the lowercased host of a Referer header value with
// the scheme, credentials, port, path and query stripped. An empty result
// means direct traffic.
func ReferrerDomain(referer string) string {
	ref := strings.ToLower(strings.TrimSpace(referer))
	if ref == "" {
		return ""
	}

	if idx := strings.Index(ref, "://"); idx != -1 {
		ref = ref[idx+3:]
	}
	ref = strings.TrimPrefix(ref, "//")

	if idx := strings.IndexAny(ref, "/?#"); idx != -1 {
		ref = ref[:idx]
	}
	if idx := strings.LastIndex(ref, "@"); idx != -1 {
		ref = ref[idx+1:]
	}
	if idx := strings.LastIndex(ref, ":"); idx != -1 && !strings.Contains(ref[idx:], "]") {
		ref = ref[:idx]
	}

	return strings.TrimSuffix(ref, ".")
}

// HashIP returns a salted SHA-256 of a client address so raw addresses
// never reach storage.
func HashIP(ip, salt string) string {
	hash := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(hash[:])
}

func GetClientIP(remoteAddr, xForwardedFor, xRealIP string) string {
	if xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xRealIP != "" {
		return xRealIP
	}

	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		return remoteAddr[:idx]
	}

	return remoteAddr
}
