package webcam

import (
	"fmt"
	"net/url"
	"strings"
)

// FullURL resolves a webcam path from the printer host settings against the
// host base URL. Absolute URLs pass through untouched; everything else is
// treated as a path on the printer host ("/webcam/?action=stream" style).
func FullURL(base, pathOrURL string) (string, error) {
	if pathOrURL == "" {
		return "", fmt.Errorf("empty webcam url")
	}
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL, nil
	}

	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	rel, err := url.Parse(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("invalid webcam path %q: %w", pathOrURL, err)
	}
	return b.ResolveReference(rel).String(), nil
}
