/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: state_monitor.go
Description: Differential page-state monitor. Polls a surface's DOM and indicator flags
until max wait elapses and captures one snapshot per distinct observed state, labelling
each transition (loading mask, loading text, session expiry, modal, content change).
Device pages load satellite and form state asynchronously, so the monitor records the
real transition boundary instead of sleeping a fixed delay.
*/

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

// ErrInvalidWait is returned when a watch is started without a positive max wait
var ErrInvalidWait = errors.New("max wait must be positive")

// Transition descriptions
const (
	InitialState           = "Initial state"
	ContentChanged         = "Page content changed"
	MaskAppeared           = "Loading mask appeared"
	MaskDisappeared        = "Loading mask disappeared"
	LoadingTextAppeared    = "Loading text appeared"
	LoadingTextDisappeared = "Loading text disappeared"
	SessionExpiryAppeared  = "Session expired modal appeared"
	SessionExpiryDismissed = "Session expired modal disappeared"
	ModalAppeared          = "Modal appeared"
	ModalDisappeared       = "Modal disappeared"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	pageMonitorWait     = 6 * time.Second
	authMonitorWait     = 15 * time.Second
	defaultStateName    = "state"
)

// WatchConfig bounds one monitoring pass
type WatchConfig struct {
	StateName    string
	MaxWait      time.Duration
	PollInterval time.Duration
}

// PageWatch returns the standard configuration used after page navigation
func PageWatch(state string) WatchConfig {
	return WatchConfig{StateName: state, MaxWait: pageMonitorWait, PollInterval: defaultPollInterval}
}

// AuthWatch returns the longer configuration used around login submission
func AuthWatch(state string) WatchConfig {
	return WatchConfig{StateName: state, MaxWait: authMonitorWait, PollInterval: defaultPollInterval}
}

// Scale multiplies the wait bounds, used for slow device models
func (c WatchConfig) Scale(multiplier float64) WatchConfig {
	if multiplier > 0 {
		c.MaxWait = time.Duration(float64(c.MaxWait) * multiplier)
	}
	return c
}

type transitionRule struct {
	description string
	match       func(prev, cur interfaces.IndicatorFlags) bool
}

// transitionRules are evaluated in order; the first match labels the capture
var transitionRules = []transitionRule{
	{MaskAppeared, func(p, c interfaces.IndicatorFlags) bool { return !p.LoadingMask && c.LoadingMask }},
	{MaskDisappeared, func(p, c interfaces.IndicatorFlags) bool { return p.LoadingMask && !c.LoadingMask }},
	{LoadingTextAppeared, func(p, c interfaces.IndicatorFlags) bool { return !p.LoadingText && c.LoadingText }},
	{LoadingTextDisappeared, func(p, c interfaces.IndicatorFlags) bool { return p.LoadingText && !c.LoadingText }},
	{SessionExpiryAppeared, func(p, c interfaces.IndicatorFlags) bool { return !p.SessionExpired && c.SessionExpired }},
	{SessionExpiryDismissed, func(p, c interfaces.IndicatorFlags) bool { return p.SessionExpired && !c.SessionExpired }},
	{ModalAppeared, func(p, c interfaces.IndicatorFlags) bool { return !p.ModalVisible && c.ModalVisible }},
	{ModalDisappeared, func(p, c interfaces.IndicatorFlags) bool { return p.ModalVisible && !c.ModalVisible }},
}

// Classify labels the transition between two observed flag sets
func Classify(prev, cur interfaces.IndicatorFlags) string {
	for _, r := range transitionRules {
		if r.match(prev, cur) {
			return r.description
		}
	}
	return ContentChanged
}

// StateMonitor polls a surface and captures distinct states
type StateMonitor struct {
	session *snapshot.Session
	logger  *logrus.Logger
	now     func() time.Time
	sleep   web.Sleeper
}

// NewStateMonitor creates a monitor persisting into session
func NewStateMonitor(session *snapshot.Session, logger *logrus.Logger) *StateMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	return &StateMonitor{
		session: session,
		logger:  logger,
		now:     time.Now,
		sleep:   web.Wait,
	}
}

// WithClock replaces the time source and sleeper, for tests
func (m *StateMonitor) WithClock(now func() time.Time, sleep web.Sleeper) *StateMonitor {
	m.now = now
	m.sleep = sleep
	return m
}

type observed struct {
	hash  string
	flags interfaces.IndicatorFlags
}

// Watch returns a lazy, finite sequence of snapshots, one per distinct state.
// Polling starts when the sequence is ranged over; ranging again re-polls
// from the surface's current state. Poll failures are logged and skipped;
// a lost surface ends the pass early.
func (m *StateMonitor) Watch(ctx context.Context, s web.Surface, cfg WatchConfig) (iter.Seq[*interfaces.StateSnapshot], error) {
	if cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWait, cfg.MaxWait)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StateName == "" {
		cfg.StateName = defaultStateName
	}

	return func(yield func(*interfaces.StateSnapshot) bool) {
		start := m.now()
		deadline := start.Add(cfg.MaxWait)
		var prev *observed
		changes := 0

		for m.now().Before(deadline) {
			if ctx.Err() != nil {
				break
			}
			cur, structure, err := m.observe(ctx, s)
			if err != nil {
				m.logger.WithError(err).WithField("state", cfg.StateName).Warn("State monitoring poll failed")
				if web.IsFatal(err) {
					break
				}
			} else if prev == nil || cur.hash != prev.hash || cur.flags != prev.flags {
				description := InitialState
				if prev != nil {
					description = Classify(prev.flags, cur.flags)
				}
				prev = &cur
				flags := cur.flags
				snap, err := m.session.Capture(ctx, s, cfg.StateName, description, &snapshot.Probe{Structure: structure, Flags: &flags})
				if err != nil {
					m.logger.WithError(err).WithField("state", cfg.StateName).Warn("State capture failed")
				} else {
					changes++
					m.logger.WithFields(logrus.Fields{
						"state":       cfg.StateName,
						"index":       snap.CaptureIndex,
						"description": description,
					}).Debug("State captured")
					if !yield(snap) {
						return
					}
				}
			}

			remaining := deadline.Sub(m.now())
			if remaining <= 0 {
				break
			}
			if err := m.sleep(ctx, min(cfg.PollInterval, remaining)); err != nil {
				break
			}
		}

		m.logger.WithFields(logrus.Fields{
			"state":   cfg.StateName,
			"changes": changes,
			"elapsed": m.now().Sub(start).Round(100 * time.Millisecond).String(),
		}).Info("Monitoring complete")
	}, nil
}

// Collect drains a watch into a slice
func (m *StateMonitor) Collect(ctx context.Context, s web.Surface, cfg WatchConfig) ([]*interfaces.StateSnapshot, error) {
	seq, err := m.Watch(ctx, s, cfg)
	if err != nil {
		return nil, err
	}
	var out []*interfaces.StateSnapshot
	for snap := range seq {
		out = append(out, snap)
	}
	return out, nil
}

func (m *StateMonitor) observe(ctx context.Context, s web.Surface) (observed, string, error) {
	structure, err := s.Content(ctx)
	if err != nil {
		return observed{}, "", err
	}
	flags, err := snapshot.DetectIndicators(ctx, s)
	if err != nil {
		return observed{}, "", err
	}
	return observed{hash: snapshot.Digest(structure), flags: flags}, structure, nil
}
