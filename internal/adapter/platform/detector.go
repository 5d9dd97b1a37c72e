package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Detector sniffs the hosting platform of a site domain. Detection feeds
// provider metadata only; provisioning proceeds with "unknown" on any error.
type Detector struct {
	client *http.Client
}

func NewDetector() *Detector {
	return &Detector{client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *Detector) Detect(ctx context.Context, domain string) (string, error) {
	url := domain
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + domain
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "unknown", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "unknown", fmt.Errorf("fetching %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if gen := resp.Header.Get("X-Generator"); gen != "" {
		return normalize(gen), nil
	}
	if powered := resp.Header.Get("X-Powered-By"); strings.Contains(strings.ToLower(powered), "wordpress") {
		return "wordpress", nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return sniffBody(string(body)), nil
}

func sniffBody(body string) string {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "wp-content") || strings.Contains(lower, "wp-includes"):
		return "wordpress"
	case strings.Contains(lower, "cdn.shopify.com"):
		return "shopify"
	case strings.Contains(lower, "joomla"):
		return "joomla"
	case strings.Contains(lower, "drupal"):
		return "drupal"
	default:
		return "unknown"
	}
}

func normalize(generator string) string {
	lower := strings.ToLower(generator)
	for _, p := range []string{"wordpress", "shopify", "joomla", "drupal", "wix", "squarespace"} {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return "unknown"
}
