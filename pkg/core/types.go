/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: types.go
Description: Core types for the exploration orchestrator. Defines the run state machine,
devices and viewport profiles, the page plan, the timing table every settle interval is
drawn from, and the engine configuration.
*/

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/analysis"
	"github.com/kleascm/kronos-explorer/pkg/auth"
	"github.com/kleascm/kronos-explorer/pkg/capability"
	"github.com/kleascm/kronos-explorer/pkg/execution"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/monitoring"
	"github.com/kleascm/kronos-explorer/pkg/web"
)

// State is a node of the orchestrator state machine
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateNavigating     State = "navigating"
	StateMonitoring     State = "monitoring"
	StateExtracting     State = "extracting"
	StateSynthesizing   State = "synthesizing"
	StateExecuting      State = "executing"
	StateRecovered      State = "recovered"
	StateDocumenting    State = "documenting"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

// Device is one appliance to explore
type Device struct {
	Address string `mapstructure:"address" yaml:"address"`
	Name    string `mapstructure:"name" yaml:"name"`
	// Model selects the capability profile; empty means read it from the dashboard
	Model  string `mapstructure:"model" yaml:"model"`
	Scheme string `mapstructure:"scheme" yaml:"scheme"`
}

// BaseURL is the console root of the device
func (d Device) BaseURL() string {
	scheme := d.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/", scheme, d.Address)
}

// PageURL is the canonical URL of a console page
func (d Device) PageURL(path string) string {
	return d.BaseURL() + strings.TrimPrefix(path, "/")
}

// Label names the device in logs and reports
func (d Device) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}

// Viewport is a browser window profile
type Viewport struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Width  int    `mapstructure:"width" yaml:"width"`
	Height int    `mapstructure:"height" yaml:"height"`
	// Mobile viewports reach the Configure control through the collapsed menu
	Mobile bool `mapstructure:"mobile" yaml:"mobile"`
}

// DefaultViewports returns the mobile and desktop profiles
func DefaultViewports() []Viewport {
	return []Viewport{
		{Name: "667x375", Width: 667, Height: 375, Mobile: true},
		{Name: "1024x768", Width: 1024, Height: 768},
	}
}

// PageSpec is one console page to explore
type PageSpec struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Description string `mapstructure:"description" yaml:"description"`
	// Feature gates the page on a capability feature
	Feature string `mapstructure:"feature" yaml:"feature,omitempty"`
	// ExpandSelector matches collapsed panel triggers opened before extraction
	ExpandSelector string `mapstructure:"expand_selector" yaml:"expand_selector,omitempty"`
}

// DefaultPages returns the configuration pages of the console
func DefaultPages() []PageSpec {
	return []PageSpec{
		{Path: "ptp", Description: "PTP configuration", Feature: capability.FeaturePTP, ExpandSelector: `a[href*="_collapse"]`},
		{Path: "general", Description: "General configuration"},
		{Path: "network", Description: "Network configuration"},
		{Path: "time", Description: "Time configuration"},
		{Path: "gnss", Description: "GNSS configuration"},
		{Path: "outputs", Description: "Outputs configuration"},
		{Path: "display", Description: "Display configuration"},
		{Path: "snmp", Description: "SNMP configuration"},
		{Path: "syslog", Description: "Syslog configuration"},
		{Path: "upload", Description: "Upload configuration"},
		{Path: "access", Description: "Access configuration"},
		{Path: "contact", Description: "Contact information"},
	}
}

// Timings holds every settle interval and wait bound of a run
type Timings struct {
	PageWait     time.Duration
	AuthWait     time.Duration
	PollInterval time.Duration
	// NavigationSettle is the wait after opening a page
	NavigationSettle time.Duration
	PanelSettle      time.Duration
	PanelsSettle     time.Duration
	RefreshSettle    time.Duration
	Extractor        analysis.ExtractorConfig
	Executor         execution.ExecutorConfig
	Probe            auth.ProbeConfig
	Login            auth.LoginConfig
}

// DefaultTimings returns the intervals the device firmware needs at multiplier 1.0
func DefaultTimings() Timings {
	page := monitoring.PageWatch("")
	return Timings{
		PageWait:         page.MaxWait,
		AuthWait:         monitoring.AuthWatch("").MaxWait,
		PollInterval:     page.PollInterval,
		NavigationSettle: 2 * time.Second,
		PanelSettle:      200 * time.Millisecond,
		PanelsSettle:     500 * time.Millisecond,
		RefreshSettle:    time.Second,
		Extractor:        analysis.DefaultExtractorConfig(),
		Executor:         execution.DefaultExecutorConfig(),
		Probe:            auth.DefaultProbeConfig(),
		Login:            auth.DefaultLoginConfig(),
	}
}

// Scale stretches every interval by a capability multiplier. The poll
// interval is scaled too so slow models are not polled harder.
func (t Timings) Scale(multiplier float64) Timings {
	if multiplier <= 0 || multiplier == 1 {
		return t
	}
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * multiplier) }
	t.PageWait = scale(t.PageWait)
	t.AuthWait = scale(t.AuthWait)
	t.PollInterval = scale(t.PollInterval)
	t.NavigationSettle = scale(t.NavigationSettle)
	t.PanelSettle = scale(t.PanelSettle)
	t.PanelsSettle = scale(t.PanelsSettle)
	t.RefreshSettle = scale(t.RefreshSettle)
	t.Extractor = t.Extractor.Scale(multiplier)
	t.Executor = t.Executor.Scale(multiplier)
	t.Probe = t.Probe.Scale(multiplier)
	t.Login = t.Login.Scale(multiplier)
	return t
}

func (t Timings) pageWatch(state string) monitoring.WatchConfig {
	return monitoring.WatchConfig{StateName: state, MaxWait: t.PageWait, PollInterval: t.PollInterval}
}

func (t Timings) authWatch(state string) monitoring.WatchConfig {
	return monitoring.WatchConfig{StateName: state, MaxWait: t.AuthWait, PollInterval: t.PollInterval}
}

// Config controls one engine
type Config struct {
	Pages       []PageSpec
	Viewports   []Viewport
	Timings     Timings
	Credentials auth.Credentials
	// Budget is the wall-clock limit per device; zero means unlimited
	Budget time.Duration
	// ProbeAuth runs the wrong-credential probe once per viewport session
	ProbeAuth bool
	// MaxReauth bounds re-authentication attempts per page
	MaxReauth int
	// MaxFailureRate aborts a viewport run once failures/attempts exceeds it
	MaxFailureRate float64
	// MinAttempts is the number of attempts before the failure rate is judged
	MinAttempts int
}

// DefaultConfig returns the standard exploration plan
func DefaultConfig() Config {
	return Config{
		Pages:          DefaultPages(),
		Viewports:      DefaultViewports(),
		Timings:        DefaultTimings(),
		ProbeAuth:      true,
		MaxReauth:      2,
		MaxFailureRate: 0.5,
		MinAttempts:    6,
	}
}

// SurfaceOpener creates a fresh, unauthenticated surface for a viewport
type SurfaceOpener func(ctx context.Context, vp Viewport) (web.Surface, error)

// Documenter writes the final documentation artifact of a run
type Documenter interface {
	Document(run *interfaces.DeviceRun) ([]string, error)
}
