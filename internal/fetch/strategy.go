package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/snapetech/iptvguide/internal/safeurl"
)

// Strategy is one way of retrieving a guide URL. Wrap maps the target URL to
// the URL actually requested.
type Strategy struct {
	Name string
	Wrap func(target string) string
}

// Direct requests the target unchanged.
var Direct = Strategy{Name: "direct", Wrap: func(target string) string { return target }}

// DefaultProxyTemplates are the public CORS-style relays tried, in order,
// after a direct request fails. {url} is replaced by the query-escaped
// target, {raw} by the target as-is.
var DefaultProxyTemplates = []string{
	"https://corsproxy.io/?url={url}",
	"https://api.allorigins.win/raw?url={url}",
	"https://api.codetabs.com/v1/proxy/?quest={raw}",
}

// ProxyStrategy builds a Strategy from a relay template. The strategy is
// named after the relay host.
func ProxyStrategy(template string) (Strategy, error) {
	template = strings.TrimSpace(template)
	if !strings.Contains(template, "{url}") && !strings.Contains(template, "{raw}") {
		return Strategy{}, fmt.Errorf("proxy template %q has no {url} or {raw} placeholder", template)
	}
	probe := strings.NewReplacer("{url}", "x", "{raw}", "x").Replace(template)
	if !safeurl.IsHTTPOrHTTPS(probe) {
		return Strategy{}, fmt.Errorf("proxy template %q is not an http(s) URL", template)
	}
	u, _ := url.Parse(probe)
	return Strategy{
		Name: u.Host,
		Wrap: func(target string) string {
			return strings.NewReplacer("{url}", url.QueryEscape(target), "{raw}", target).Replace(template)
		},
	}, nil
}

// Chain returns Direct followed by one proxy strategy per template.
func Chain(templates []string) ([]Strategy, error) {
	out := []Strategy{Direct}
	for _, t := range templates {
		if strings.TrimSpace(t) == "" {
			continue
		}
		s, err := ProxyStrategy(t)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
