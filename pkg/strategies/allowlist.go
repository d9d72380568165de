/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: allowlist.go
Description: Safety allow-list for adversarial input. Field identifiers are matched
against per-category glob patterns; deny patterns (network addressing) and denied
pages always win over any allow pattern.
*/

package strategies

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// AllowListConfig is the declarative form of an allow-list.
// Categories maps a semantic category name to field globs.
type AllowListConfig struct {
	Categories  map[string][]string `mapstructure:"categories" yaml:"categories"`
	Denied      []string            `mapstructure:"denied" yaml:"denied"`
	DeniedPages []string            `mapstructure:"denied_pages" yaml:"denied_pages"`
}

// DefaultAllowListConfig covers the identity, SNMP, syslog and display
// fields that cannot break device connectivity
func DefaultAllowListConfig() AllowListConfig {
	return AllowListConfig{
		Categories: map[string][]string{
			"identity": {"*identifier*", "*location*", "*contact*"},
			"snmp":     {"*community*"},
			"syslog":   {"*server*"},
			"display":  {"*display_timeout*"},
		},
		Denied: []string{
			"ip", "ip_*", "*_ip", "*ipaddr*", "*ip_address*",
			"*netmask*", "*subnet*", "*gateway*", "*dns*", "*dhcp*",
			"*vlan*", "*mac_address*", "*hostname*",
		},
		DeniedPages: []string{"network", "network/*"},
	}
}

type category struct {
	name     string
	patterns []glob.Glob
}

// AllowList decides which fields may receive synthesized input
type AllowList struct {
	categories  []category
	denied      []glob.Glob
	deniedPages []glob.Glob
}

func compileAll(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern '%s': %w", kind, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// NewAllowList compiles an allow-list configuration
func NewAllowList(cfg AllowListConfig) (*AllowList, error) {
	al := &AllowList{}

	names := make([]string, 0, len(cfg.Categories))
	for name := range cfg.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		patterns, err := compileAll("allowed", cfg.Categories[name])
		if err != nil {
			return nil, err
		}
		al.categories = append(al.categories, category{name: name, patterns: patterns})
	}

	var err error
	if al.denied, err = compileAll("denied", cfg.Denied); err != nil {
		return nil, err
	}
	if al.deniedPages, err = compileAll("denied page", cfg.DeniedPages); err != nil {
		return nil, err
	}
	return al, nil
}

// DefaultAllowList returns the compiled default allow-list
func DefaultAllowList() *AllowList {
	al, err := NewAllowList(DefaultAllowListConfig())
	if err != nil {
		panic(err)
	}
	return al
}

func matchAny(patterns []glob.Glob, s string) bool {
	for _, g := range patterns {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Category returns the semantic category of a field. Denied fields and
// fields outside every category report false.
func (al *AllowList) Category(fieldID string) (string, bool) {
	if al == nil {
		return "", false
	}
	id := strings.ToLower(fieldID)
	if matchAny(al.denied, id) {
		return "", false
	}
	for _, c := range al.categories {
		if matchAny(c.patterns, id) {
			return c.name, true
		}
	}
	return "", false
}

// Allows reports whether a field may receive synthesized input
func (al *AllowList) Allows(fieldID string) bool {
	_, ok := al.Category(fieldID)
	return ok
}

// PageAllowed reports whether any field on the page may be probed
func (al *AllowList) PageAllowed(page string) bool {
	if al == nil {
		return false
	}
	return !matchAny(al.deniedPages, strings.ToLower(strings.Trim(page, "/")))
}
