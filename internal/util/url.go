package util

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// DomainPropertyPrefix marks a Search Console domain property.
const DomainPropertyPrefix = "sc-domain:"

// IsAbsoluteURL reports whether s starts with an http or https scheme
func IsAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// NormaliseSiteURL converts a PROPERTY cell into the siteUrl expected by Search Console.
//
// URL-prefix properties keep their scheme and always end with "/". Anything else is
// treated as a bare domain: trailing slashes are removed and the domain property
// prefix is added. Applying the function to its own output returns the same value.
func NormaliseSiteURL(site string) string {
	site = strings.TrimSpace(site)
	if site == "" {
		return ""
	}

	if IsAbsoluteURL(site) {
		if !strings.HasSuffix(site, "/") {
			site += "/"
		}
		return site
	}

	site = strings.TrimRight(site, "/")
	if strings.HasPrefix(site, DomainPropertyPrefix) {
		return site
	}
	return DomainPropertyPrefix + site
}

// NormaliseInspectionURL trims whitespace from a URL cell and checks it parses as an absolute URL.
// It returns an empty string when the value cannot be inspected.
func NormaliseInspectionURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		log.Debug().Str("url", rawURL).Err(err).Msg("Invalid inspection URL format")
		return ""
	}

	return rawURL
}
