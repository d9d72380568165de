/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: results.go
Description: Run-level result records for Kronos Explorer. A DeviceRun aggregates one
viewport run per viewport profile, each holding authentication probe results and the
per-page extraction, synthesis and execution outcomes written to the final report.
*/

package interfaces

import (
	"time"
)

// PageStatus describes how far exploration of a page got
type PageStatus string

const (
	PageCompleted PageStatus = "completed"
	PagePartial   PageStatus = "partial"
	PageFailed    PageStatus = "failed"
	PageSkipped   PageStatus = "skipped"
)

// PageResult collects everything learned about a single page
type PageResult struct {
	Path            string             `json:"path"`
	Title           string             `json:"title"`
	URL             string             `json:"url"`
	Status          PageStatus         `json:"status"`
	Failure         string             `json:"failure,omitempty"`
	SkipReason      string             `json:"skip_reason,omitempty"`
	ProbingDenied   bool               `json:"probing_denied"`
	Snapshots       []SnapshotRef      `json:"snapshots,omitempty"`
	Rules           *ValidationRuleSet `json:"rules,omitempty"`
	TestCases       []TestCase         `json:"test_cases,omitempty"`
	Observations    []ErrorObservation `json:"observations,omitempty"`
	Reauthenticated int                `json:"reauthenticated"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

// ExtractionFailed reports whether rule extraction did not fully complete
func (p *PageResult) ExtractionFailed() bool {
	return p.Rules == nil || p.Rules.Failed()
}

// RunStatus is the terminal status of a device or viewport run
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunAborted   RunStatus = "aborted"
)

// ViewportRun is one exploration pass of a device at one viewport profile
type ViewportRun struct {
	Viewport       string            `json:"viewport"`
	Status         RunStatus         `json:"status"`
	Error          string            `json:"error,omitempty"`
	AuthProbes     []AuthProbeResult `json:"auth_probes,omitempty"`
	AuthProbeError string            `json:"auth_probe_error,omitempty"`
	Pages          []PageResult      `json:"pages"`
	Snapshots      int               `json:"snapshots"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// DeviceRun is the complete result of exploring one device
type DeviceRun struct {
	RunID      string        `json:"run_id"`
	Device     string        `json:"device"`
	Name       string        `json:"name"`
	Model      string        `json:"model"`
	Firmware   string        `json:"firmware,omitempty"`
	Multiplier float64       `json:"timeout_multiplier"`
	Status     RunStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
	Viewports  []ViewportRun `json:"viewports"`
	Reports    []string      `json:"reports,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Observations returns the number of executed test cases across the run
func (d *DeviceRun) Observations() int {
	n := 0
	for _, vp := range d.Viewports {
		for _, p := range vp.Pages {
			n += len(p.Observations)
		}
	}
	return n
}
