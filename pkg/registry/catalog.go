// Package registry loads the live-endpoint catalog and the historical schema
// documentation that the planners embed in their prompts.
package registry

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	LabelLive    = "Blitz Live"
	LabelAI      = "Blitz AI"
	LabelGeneric = "Blitz"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_]+)\}`)

// liveLabelMarkers are endpoint fragments served as first-party live data.
var liveLabelMarkers = []string{"PlayersByActive", "PlayersByFreeAgents", "teams", "ScoresBasicFinal", "BettingMarketsByGameID"}

type Catalog struct {
	Version int                       `yaml:"version"`
	Leagues map[string]*LeagueCatalog `yaml:"leagues"`
}

type LeagueCatalog struct {
	// Objects maps a response object name to its comma-separated keys.
	Objects   map[string]string `yaml:"objects"`
	Endpoints []Endpoint        `yaml:"endpoints"`
}

type Endpoint struct {
	Name        string `yaml:"name"`
	Template    string `yaml:"template"`
	Family      string `yaml:"family"`
	Description string `yaml:"description"`
	Response    string `yaml:"response"`
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for _, lc := range c.Leagues {
		for i := range lc.Endpoints {
			if lc.Endpoints[i].Family == "" {
				lc.Endpoints[i].Family = familyOf(lc.Endpoints[i].Template)
			}
		}
	}
	return &c, c.Validate()
}

// Validate checks names are unique per league and templates are absolute URLs.
func (c *Catalog) Validate() error {
	if len(c.Leagues) == 0 {
		return fmt.Errorf("catalog has no leagues")
	}
	for league, lc := range c.Leagues {
		seen := make(map[string]bool)
		for _, ep := range lc.Endpoints {
			if ep.Name == "" {
				return fmt.Errorf("%s: endpoint without name", league)
			}
			if seen[ep.Name] {
				return fmt.Errorf("%s: duplicate endpoint %s", league, ep.Name)
			}
			seen[ep.Name] = true
			u, err := url.Parse(ep.Template)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("%s/%s: template is not an absolute URL", league, ep.Name)
			}
		}
	}
	return nil
}

func (c *Catalog) Endpoints(league string) []Endpoint {
	lc, ok := c.Leagues[league]
	if !ok {
		return nil
	}
	return lc.Endpoints
}

// Lookup resolves a planner reference, which may be the template URL or the
// endpoint name.
func (c *Catalog) Lookup(league, ref string) (Endpoint, bool) {
	ref = strings.TrimSpace(ref)
	for _, ep := range c.Endpoints(league) {
		if ep.Template == ref || strings.EqualFold(ep.Name, ref) {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Describe renders the league's endpoints and response dictionaries for prompts.
func (c *Catalog) Describe(league string) string {
	lc, ok := c.Leagues[league]
	if !ok || len(lc.Endpoints) == 0 {
		return "No live endpoints are available for this league."
	}

	var b strings.Builder
	b.WriteString("### Available Live Endpoints\n")
	for _, ep := range lc.Endpoints {
		fmt.Fprintf(&b, "- %s", ep.Template)
		if ep.Description != "" {
			fmt.Fprintf(&b, " (%s)", ep.Description)
		}
		b.WriteString("\n")
		if ep.Response != "" {
			fmt.Fprintf(&b, "  Returns: %s\n", ep.Response)
		}
	}

	if len(lc.Objects) > 0 {
		b.WriteString("\n### Live Endpoint Dictionary\n")
		names := make([]string, 0, len(lc.Objects))
		for name := range lc.Objects {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "#### %s\nKeys: %s\n", name, strings.TrimSpace(lc.Objects[name]))
		}
	}
	return strings.TrimSpace(b.String())
}

// Placeholders lists the {name} tokens of the template in order.
func (e Endpoint) Placeholders() []string {
	matches := placeholderRe.FindAllStringSubmatch(e.Template, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Expand substitutes params into the template. Missing placeholders are reported.
func (e Endpoint) Expand(params map[string]string) (string, []string) {
	var missing []string
	expanded := placeholderRe.ReplaceAllStringFunc(e.Template, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := lookupFold(params, name); ok && v != "" {
			return url.PathEscape(v)
		}
		missing = append(missing, name)
		return token
	})
	return expanded, missing
}

func lookupFold(params map[string]string, name string) (string, bool) {
	if v, ok := params[name]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (e Endpoint) IsTrend() bool           { return IsTrend(e.Template) }
func (e Endpoint) IsBettingMarkets() bool  { return IsBettingMarkets(e.Template) }
func (e Endpoint) IsBaker() bool           { return IsBaker(e.Template) }
func (e Endpoint) IsFullSeasonBaker() bool { return IsFullSeasonBaker(e.Template) }
func (e Endpoint) Label() string           { return Label(e.Template) }

func IsTrend(u string) bool {
	return strings.Contains(u, "/trends/")
}

func IsBettingMarkets(u string) bool {
	return strings.Contains(u, "BettingMarketsByGameID")
}

func IsBaker(u string) bool {
	return strings.Contains(u, "baker-api") || strings.Contains(u, "Baker")
}

func IsFullSeasonBaker(u string) bool {
	return strings.Contains(u, "baker-api") && strings.Contains(u, "/projections/players/full-season/")
}

// Label is the citation tag for data served by u.
func Label(u string) string {
	for _, marker := range liveLabelMarkers {
		if strings.Contains(u, marker) {
			return LabelLive
		}
	}
	if IsBaker(u) {
		return LabelAI
	}
	return LabelGeneric
}

func familyOf(template string) string {
	u, err := url.Parse(template)
	if err != nil {
		return ""
	}
	return u.Host
}
