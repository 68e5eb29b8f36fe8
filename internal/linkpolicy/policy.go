// Package linkpolicy decides where a link clicked inside the shell opens.
package linkpolicy

import (
	"fmt"
	"net/url"
	"strings"
)

type Decision int

const (
	// Block drops the navigation.
	Block Decision = iota
	// Allow keeps the navigation inside the shell window.
	Allow
	// OpenExternal hands the URL to the OS default handler.
	OpenExternal
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case OpenExternal:
		return "external"
	default:
		return "block"
	}
}

// Policy is immutable once built.
type Policy struct {
	origins map[string]struct{}
	list    []string
}

// New builds a policy from origins such as "https://www.messenger.com".
// Paths are ignored; scheme and host are compared case-insensitively.
func New(origins []string) (*Policy, error) {
	p := &Policy{origins: map[string]struct{}{}}
	for i, raw := range origins {
		o, err := originOf(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("allowed_origins[%d]: %w", i, err)
		}
		if _, dup := p.origins[o]; dup {
			continue
		}
		p.origins[o] = struct{}{}
		p.list = append(p.list, o)
	}
	if len(p.origins) == 0 {
		return nil, fmt.Errorf("allowed_origins: at least one origin is required")
	}
	return p, nil
}

// Origins returns the normalized allowed origins in configuration order.
func (p *Policy) Origins() []string { return append([]string(nil), p.list...) }

// Decide classifies rawURL. Relative URLs are not resolved here; callers
// pass absolute URLs as reported by the page.
func (p *Policy) Decide(rawURL string) Decision {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return Block
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return Block
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return Block
		}
		o, err := originOf(s)
		if err != nil {
			return Block
		}
		if _, ok := p.origins[o]; ok {
			return Allow
		}
		return OpenExternal
	case "mailto", "tel":
		if u.Opaque == "" && u.Path == "" {
			return Block
		}
		return OpenExternal
	default:
		// javascript:, data:, file: and custom schemes never leave the page.
		return Block
	}
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("origin %q must be http(s)", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("origin %q has no host", raw)
	}
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}
