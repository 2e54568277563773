// Package horosafe provides the input guards webclip applies at its trust
// boundaries: note service URLs typed by the user, note ids spliced into
// request paths, script names requested by page contexts, and bounded reads
// of remote responses.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// MaxResponseBody is the default cap for note service response reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// MaxImageBody caps a single fetched image (20 MiB).
const MaxImageBody int64 = 20 << 20

// ErrPathTraversal is returned when a requested asset path escapes its root.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: response too large")

// CleanAssetPath validates a slash-separated asset name (as used with
// io/fs) and returns it cleaned. Absolute paths and any ".." element are
// rejected.
func CleanAssetPath(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", ErrPathTraversal
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", ErrPathTraversal
		}
	}
	return path.Clean(name), nil
}

// ValidateServiceURL checks that rawURL is an absolute http/https URL with a
// host, and returns it without a trailing slash. Loopback hosts are allowed:
// a desktop note service usually listens on localhost.
func ValidateServiceURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsafeScheme
	}
	if u.Host == "" {
		return "", fmt.Errorf("horosafe: URL has no host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// ValidateIdentifier rejects identifiers unsuitable as a URL path segment.
// Allows alphanumeric, underscore, hyphen, and dot (but not "." or "..").
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	if s == "." || s == ".." {
		return fmt.Errorf("horosafe: invalid identifier %q", s)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
