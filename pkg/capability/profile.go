/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profile.go
Description: Device capability profiles. A Registry maps hardware models to profiles
holding a timeout multiplier and feature flags (PTP, interfaces, outputs, protocols).
Built-in profiles can be overlaid by a YAML file. The registry is passed explicitly to
the orchestrator and only scales timing and gates capability-specific pages.
*/

package capability

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Feature names understood by Profile.Supports
const (
	FeaturePTP            = "ptp"
	FeatureMultiInterface = "multi_interface"
	FeatureHTTPRedirect   = "http_redirect"
)

// Default timing values for models without explicit settings
const (
	DefaultRefreshInterval = 240 * time.Second
	defaultSessionTimeout  = 30
)

// Profile describes one hardware model
type Profile struct {
	Model                 string   `yaml:"model"`
	Series                int      `yaml:"series"`
	PTPSupported          bool     `yaml:"ptp_supported"`
	HTTPRedirect          bool     `yaml:"http_redirect"`
	Interfaces            []string `yaml:"interface_names"`
	PTPInterfaces         []string `yaml:"ptp_interfaces,omitempty"`
	MaxOutputs            int      `yaml:"max_outputs"`
	Protocols             []string `yaml:"protocols,omitempty"`
	SessionTimeoutMinutes int      `yaml:"session_timeout_minutes"`
	KnownIssues           []string `yaml:"known_issues,omitempty"`
	// TimeoutMultiplier overrides the multiplier derived from known issues
	TimeoutMultiplier float64 `yaml:"timeout_multiplier,omitempty"`
	// RefreshSeconds overrides DefaultRefreshInterval
	RefreshSeconds int `yaml:"refresh_seconds,omitempty"`
}

// Multiplier scales every timing constant for this model. Timeout or
// navigation issues double it; PTP or multi-interface issues add half.
func (p Profile) Multiplier() float64 {
	if p.TimeoutMultiplier > 0 {
		return p.TimeoutMultiplier
	}
	m := 1.0
	for _, issue := range p.KnownIssues {
		lower := strings.ToLower(issue)
		switch {
		case strings.Contains(lower, "timeout"), strings.Contains(lower, "navigation"):
			return 2.0
		case strings.Contains(lower, "ptp"), strings.Contains(lower, "multi-interface"):
			m = 1.5
		}
	}
	return m
}

// Supports reports whether the model has a feature, interface or protocol
func (p Profile) Supports(feature string) bool {
	switch strings.ToLower(feature) {
	case FeaturePTP:
		return p.PTPSupported
	case FeatureMultiInterface:
		return len(p.Interfaces) > 1
	case FeatureHTTPRedirect:
		return p.HTTPRedirect
	}
	for _, set := range [][]string{p.Interfaces, p.Protocols} {
		for _, v := range set {
			if strings.EqualFold(v, feature) {
				return true
			}
		}
	}
	return false
}

// RefreshInterval is how long a viewport run may go before the session is refreshed
func (p Profile) RefreshInterval() time.Duration {
	if p.RefreshSeconds > 0 {
		return time.Duration(p.RefreshSeconds) * time.Second
	}
	return DefaultRefreshInterval
}

// Registry holds profiles keyed by model
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry from profiles
func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	r.Merge(profiles)
	return r
}

// DefaultRegistry returns the built-in Kronos profiles
func DefaultRegistry() *Registry {
	return NewRegistry(builtinProfiles()...)
}

// Merge overlays profiles, replacing any existing profile of the same model
func (r *Registry) Merge(profiles []Profile) {
	for _, p := range profiles {
		if p.SessionTimeoutMinutes == 0 {
			p.SessionTimeoutMinutes = defaultSessionTimeout
		}
		r.profiles[p.Model] = p
	}
}

// Lookup returns the profile for a model. Unknown models get a neutral
// profile with multiplier 1.0 and no features.
func (r *Registry) Lookup(model string) Profile {
	if p, ok := r.profiles[model]; ok {
		return p
	}
	return Profile{Model: model, SessionTimeoutMinutes: defaultSessionTimeout}
}

// Known reports whether the registry has a profile for model
func (r *Registry) Known(model string) bool {
	_, ok := r.profiles[model]
	return ok
}

// Models lists the registered models in order
func (r *Registry) Models() []string {
	models := make([]string, 0, len(r.profiles))
	for m := range r.profiles {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// profileFile is the on-disk layout of a profile overlay
type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadFile reads profiles from a YAML file
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	for i, p := range pf.Profiles {
		if p.Model == "" {
			return nil, fmt.Errorf("parse profiles %s: entry %d has no model", path, i)
		}
	}
	return pf.Profiles, nil
}

// WriteFile stores profiles as YAML
func WriteFile(path string, profiles []Profile) error {
	data, err := yaml.Marshal(profileFile{Profiles: profiles})
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// All returns every registered profile ordered by model
func (r *Registry) All() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, m := range r.Models() {
		out = append(out, r.profiles[m])
	}
	return out
}

func builtinProfiles() []Profile {
	gnss := []string{"GPS", "Galileo", "GLONASS", "BeiDou"}
	return []Profile{
		{
			Model: "KRONOS-2R-HVXX-A2F", Series: 2,
			Interfaces: []string{"eth0"}, MaxOutputs: 4, Protocols: gnss,
		},
		{
			Model: "KRONOS-2P-HV-2", Series: 2,
			Interfaces: []string{"eth0"}, MaxOutputs: 4, Protocols: gnss,
			KnownIssues: []string{"HTTP to HTTPS redirect causes browser compatibility test failures"},
		},
		{
			Model: "KRONOS-3R-HVLV-TCXO-A2F", Series: 3, PTPSupported: true,
			Interfaces:    []string{"eth0", "eth1", "eth2", "eth3"},
			PTPInterfaces: []string{"eth1", "eth2", "eth3"},
			MaxOutputs:    6, Protocols: append([]string{"PTP"}, gnss...),
			KnownIssues: []string{"PTP panels collapsed by default", "Multi-interface locator ambiguity"},
		},
		{
			Model: "KRONOS-3R-HVXX-TCXO-44A", Series: 3, PTPSupported: true,
			Interfaces:    []string{"eth0", "eth1", "eth3"},
			PTPInterfaces: []string{"eth1", "eth3"},
			MaxOutputs:    6, Protocols: append([]string{"PTP"}, gnss...),
			KnownIssues: []string{
				"PTP panels collapsed by default",
				"Multi-interface locator ambiguity",
				"Configuration unlock timeouts (3 errors vs 0-1 on other devices)",
				"Navigation timeout issues",
			},
		},
		{
			Model: "KRONOS-3R-HVXX-TCXO-A2X", Series: 3, PTPSupported: true,
			Interfaces:    []string{"eth0", "eth1", "eth2", "eth3", "eth4"},
			PTPInterfaces: []string{"eth1", "eth2", "eth3", "eth4"},
			MaxOutputs:    6, Protocols: append([]string{"PTP"}, gnss...),
			KnownIssues: []string{
				"PTP panels collapsed by default",
				"Multi-interface locator ambiguity",
				"Configuration unlock timeouts (3 errors vs 0-1 on other devices)",
				"Navigation timeout issues",
			},
		},
	}
}
