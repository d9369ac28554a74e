// Package validation checks values that leave the process, such as the URL
// handed to the system browser opener.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// shellUnsafe are characters an opener command could interpret.
const shellUnsafe = ";&|`$()<>\"'\\ \n\r"

// ValidateURL accepts only http(s) URLs with a host and no characters a
// platform opener could interpret.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	if i := strings.IndexAny(rawURL, shellUnsafe); i >= 0 {
		return fmt.Errorf("URL contains dangerous character: %q", rawURL[i])
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	return nil
}

// BrowserURL turns a listen address into the URL a local browser should
// open. Unspecified hosts (":3000", "0.0.0.0", "::") become localhost.
func BrowserURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}

	u := "http://" + net.JoinHostPort(host, port)
	if err := ValidateURL(u); err != nil {
		return "", err
	}
	return u, nil
}
