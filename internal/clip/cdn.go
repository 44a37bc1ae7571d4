package clip

import (
	"net/url"
	"strconv"
	"time"
)

// DefaultCDNTTL is the fallback lifetime assumed for CDN links that carry no
// expiry parameter.
const DefaultCDNTTL = 24 * time.Hour

// ExtractCDNExpiry reads the hex-encoded ex query parameter the platform CDN
// stamps on attachment URLs. URLs without a decodable parameter fall back to
// now plus DefaultCDNTTL.
func ExtractCDNExpiry(rawURL string, now time.Time) time.Time {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return now.Add(DefaultCDNTTL)
	}
	ex := parsed.Query().Get("ex")
	if ex == "" {
		return now.Add(DefaultCDNTTL)
	}
	epoch, err := strconv.ParseInt(ex, 16, 64)
	if err != nil {
		return now.Add(DefaultCDNTTL)
	}
	return time.Unix(epoch, 0).UTC()
}
