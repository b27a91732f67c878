package images

import (
	"regexp"
	"strconv"
	"strings"
)

var safariVersion = regexp.MustCompile(`version/(\d+)\.(\d+)`)

// Negotiate resolves the auto format token against the request's Accept and
// User-Agent headers. AVIF is offered only when the Accept header advertises
// it, with a carve-out for Safari: Safari started advertising image/avif
// before it could decode it reliably, so Safari below 16.1 is downgraded.
// WebP is next when advertised, JPEG is the universal base.
func Negotiate(accept, userAgent string) Format {
	accept = strings.ToLower(accept)
	ua := strings.ToLower(userAgent)

	if strings.Contains(accept, "image/avif") && avifSafe(ua) {
		return FormatAVIF
	}
	if strings.Contains(accept, "image/webp") {
		return FormatWebP
	}
	return FormatJPEG
}

// Resolve returns format unchanged unless it is the auto token, in which
// case it negotiates against the request headers.
func Resolve(format Format, accept, userAgent string) Format {
	if format != FormatAuto {
		return format
	}
	return Negotiate(accept, userAgent)
}

func avifSafe(ua string) bool {
	// Chrome and Chromium derivatives embed "safari" in their UA string;
	// only genuine Safari gets the version gate.
	if !strings.Contains(ua, "safari") || strings.Contains(ua, "chrome") || strings.Contains(ua, "chromium") {
		return true
	}
	m := safariVersion.FindStringSubmatch(ua)
	if m == nil {
		return false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return major > 16 || (major == 16 && minor >= 1)
}
