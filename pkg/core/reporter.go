/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter interface and implementations for live exploration progress.
Reporters are notified of state transitions, authentication probes, explored pages,
executed test cases and finished runs.
*/

package core

import (
	"sync"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/logging"
)

// Reporter defines the hooks the engine calls while exploring.
// Hooks for different devices may be called concurrently.
type Reporter interface {
	// OnStateChange is called on every state machine transition. viewport is
	// empty for device-level transitions.
	OnStateChange(device, viewport string, from, to State)
	// OnAuthProbe is called once per wrong-credential submission
	OnAuthProbe(device, viewport string, res *interfaces.AuthProbeResult)
	// OnPageExplored is called when a page is finished, skipped or abandoned
	OnPageExplored(device, viewport string, page *interfaces.PageResult)
	// OnObservation is called after each executed and recovered test case
	OnObservation(device, viewport string, obs *interfaces.ErrorObservation)
	// OnRunFinished is called after documentation is written
	OnRunFinished(run *interfaces.DeviceRun)
}

// LoggerReporter writes progress through the exploration logger
type LoggerReporter struct {
	log *logging.Logger
}

// NewLoggerReporter creates a new LoggerReporter.
func NewLoggerReporter(log *logging.Logger) *LoggerReporter {
	return &LoggerReporter{log: log}
}

// OnStateChange logs phase changes.
func (r *LoggerReporter) OnStateChange(device, viewport string, from, to State) {
	r.log.LogPhase(device, viewport, string(from), string(to))
}

// OnAuthProbe logs probe outcomes.
func (r *LoggerReporter) OnAuthProbe(device, viewport string, res *interfaces.AuthProbeResult) {
	r.log.LogAuthProbe(device, viewport, res)
}

// OnPageExplored logs the page result and each of its snapshots.
func (r *LoggerReporter) OnPageExplored(device, viewport string, page *interfaces.PageResult) {
	for _, ref := range page.Snapshots {
		r.log.LogSnapshot(device, viewport, ref)
	}
	r.log.LogPage(device, viewport, page)
}

// OnObservation logs executed test cases.
func (r *LoggerReporter) OnObservation(device, viewport string, obs *interfaces.ErrorObservation) {
	r.log.LogObservation(device, viewport, obs)
}

// OnRunFinished logs the run summary.
func (r *LoggerReporter) OnRunFinished(run *interfaces.DeviceRun) {
	r.log.LogRunSummary(run)
}

// Transition is one recorded state change
type Transition struct {
	Device   string
	Viewport string
	From     State
	To       State
}

// RecordingReporter keeps every event in memory. The CLI uses it to print
// the final summary table; tests use it to assert on ordering.
type RecordingReporter struct {
	mu           sync.Mutex
	Transitions  []Transition
	AuthProbes   []interfaces.AuthProbeResult
	Pages        []interfaces.PageResult
	Observations []interfaces.ErrorObservation
	Runs         []*interfaces.DeviceRun
}

// NewRecordingReporter creates an empty RecordingReporter
func NewRecordingReporter() *RecordingReporter {
	return &RecordingReporter{}
}

func (r *RecordingReporter) OnStateChange(device, viewport string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Transitions = append(r.Transitions, Transition{Device: device, Viewport: viewport, From: from, To: to})
}

func (r *RecordingReporter) OnAuthProbe(device, viewport string, res *interfaces.AuthProbeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AuthProbes = append(r.AuthProbes, *res)
}

func (r *RecordingReporter) OnPageExplored(device, viewport string, page *interfaces.PageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pages = append(r.Pages, *page)
}

func (r *RecordingReporter) OnObservation(device, viewport string, obs *interfaces.ErrorObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Observations = append(r.Observations, *obs)
}

func (r *RecordingReporter) OnRunFinished(run *interfaces.DeviceRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs = append(r.Runs, run)
}

// States returns the sequence of target states for one viewport
func (r *RecordingReporter) States(viewport string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, t := range r.Transitions {
		if t.Viewport == viewport {
			out = append(out, t.To)
		}
	}
	return out
}
