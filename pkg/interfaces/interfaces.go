/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Shared data model for Kronos Explorer. Defines the snapshot, constraint,
rule set, test case and observation records passed between the monitor, extractor,
synthesizer, executor, probe and orchestrator, kept here to break import cycles.
*/

package interfaces

import (
	"time"
)

// ConsoleMessage is one browser console entry observed on a surface
type ConsoleMessage struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// IndicatorFlags are the coarse page-state signals compared between polls
type IndicatorFlags struct {
	LoadingMask    bool `json:"loading_mask"`
	LoadingText    bool `json:"loading_text"`
	ModalVisible   bool `json:"modal_visible"`
	SessionExpired bool `json:"session_expired"`
}

// ButtonState records a visible button label and whether it was disabled
type ButtonState struct {
	Text     string `json:"text"`
	Disabled bool   `json:"disabled"`
}

// LoadingText holds the text content of loading indicators at capture time
type LoadingText struct {
	MaskText    string        `json:"loading_mask_text,omitempty"`
	OverlayText string        `json:"loading_overlay_text,omitempty"`
	Buttons     []ButtonState `json:"button_texts,omitempty"`
	Toasts      []string      `json:"toast_messages,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// StateSnapshot is one immutable captured state of a surface.
// StructuralDigest holds the serialized DOM; it is persisted as its own
// artifact and left out of the metadata document.
type StateSnapshot struct {
	CaptureIndex     int              `json:"capture_index"`
	Timestamp        time.Time        `json:"timestamp"`
	StateName        string           `json:"state_name"`
	Description      string           `json:"description"`
	URL              string           `json:"url"`
	Title            string           `json:"title"`
	Viewport         string           `json:"viewport"`
	StructuralDigest string           `json:"-"`
	DigestHash       string           `json:"digest_hash"`
	Indicators       IndicatorFlags   `json:"indicator_flags"`
	ConsoleMessages  []ConsoleMessage `json:"console_messages"`
	LoadingText      LoadingText      `json:"loading_text"`
	Visual           []byte           `json:"-"`
	Refs             SnapshotRef      `json:"-"`
}

// SnapshotRef points at the persisted artifact triple of a snapshot
type SnapshotRef struct {
	StateName    string `json:"state_name"`
	CaptureIndex int    `json:"capture_index"`
	Visual       string `json:"visual,omitempty"`
	Structure    string `json:"structure,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
}

// ConstraintKind enumerates the declared validation rule kinds
type ConstraintKind string

const (
	KindRequired     ConstraintKind = "required"
	KindMaxLength    ConstraintKind = "max_length"
	KindMinLength    ConstraintKind = "min_length"
	KindPattern      ConstraintKind = "pattern"
	KindNumericRange ConstraintKind = "numeric_range"
	KindEnumerated   ConstraintKind = "enumerated"
)

// FieldConstraint is one declared or inferred rule attached to a field.
// Min and Max are only set for numeric_range; Options only for enumerated.
type FieldConstraint struct {
	FieldID       string         `json:"field_id"`
	Kind          ConstraintKind `json:"kind"`
	BoundValue    string         `json:"bound_value,omitempty"`
	Min           *float64       `json:"min,omitempty"`
	Max           *float64       `json:"max,omitempty"`
	Options       []string       `json:"options,omitempty"`
	InputType     string         `json:"input_type,omitempty"`
	DeclaredTitle string         `json:"declared_title,omitempty"`
}

// FieldAttributes is the raw constraint attribute map of one form control
type FieldAttributes map[string]string

// ScriptedValidator is evidence of a page-level validation callable
type ScriptedValidator struct {
	Name          string `json:"name"`
	SourceExcerpt string `json:"source_excerpt"`
}

// EventRule records the messages one event produced on one field
type EventRule struct {
	FieldID          string   `json:"field_id"`
	Event            string   `json:"event"`
	ObservedMessages []string `json:"observed_messages"`
}

// AttributeChange is the before/after value of a single attribute
type AttributeChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DynamicRuleDiff records attribute changes caused by toggling a control
type DynamicRuleDiff struct {
	FieldID           string                     `json:"field_id"`
	TriggeringControl string                     `json:"triggering_control"`
	Action            string                     `json:"action"`
	ChangedAttributes map[string]AttributeChange `json:"changed_attributes"`
}

// SelectorCount is a detection count for one selector
type SelectorCount struct {
	Selector string `json:"selector"`
	Count    int    `json:"count"`
	Visible  int    `json:"visible"`
}

// MultiStepAnalysis describes wizard-style form structure found on a page
type MultiStepAnalysis struct {
	Detected           bool            `json:"multi_step_detected"`
	StepIndicators     []SelectorCount `json:"step_indicators,omitempty"`
	NavigationControls []SelectorCount `json:"navigation_elements,omitempty"`
}

// ValidationRuleSet is the per-page aggregate produced by the extractor.
// Failures maps a sub-procedure name to the reason it could not complete.
type ValidationRuleSet struct {
	ExtractedAt            time.Time                  `json:"extracted_at"`
	Fields                 map[string]FieldAttributes `json:"fields"`
	DeclarativeConstraints []FieldConstraint          `json:"declarative_constraints"`
	ScriptedValidators     []ScriptedValidator        `json:"scripted_validators"`
	ErrorMessageTemplates  []string                   `json:"error_message_templates"`
	EventTriggeredRules    []EventRule                `json:"event_triggered_rules"`
	DynamicRuleDiffs       []DynamicRuleDiff          `json:"dynamic_rule_diffs"`
	MultiStep              *MultiStepAnalysis         `json:"multi_step,omitempty"`
	Failures               map[string]string          `json:"failures,omitempty"`
}

// Failed reports whether any extraction sub-procedure failed
func (r *ValidationRuleSet) Failed() bool {
	return r != nil && len(r.Failures) > 0
}

// TestCategory names the adversarial input class of a test case
type TestCategory string

const (
	CategoryRequiredEmpty    TestCategory = "required_empty"
	CategoryExceedsMaxLength TestCategory = "exceeds_maxlength"
	CategoryBelowMinLength   TestCategory = "below_minlength"
	CategoryPatternViolation TestCategory = "pattern_violation"
	CategoryBelowMinimum     TestCategory = "below_minimum"
	CategoryAboveMaximum     TestCategory = "above_maximum"
	CategoryNonNumeric       TestCategory = "non_numeric"
	CategoryUnlistedOption   TestCategory = "unlisted_option"
)

// TestCase is a synthesized adversarial input for one field
type TestCase struct {
	FieldID              string       `json:"field_id"`
	Category             TestCategory `json:"category"`
	InvalidValue         string       `json:"invalid_value"`
	ExpectedErrorPattern string       `json:"expected_error_pattern"`
}

// ID is a stable identifier derived from the field and category
func (tc TestCase) ID() string {
	return tc.FieldID + "/" + string(tc.Category)
}

// Outcome classifies what a page did with an invalid value
type Outcome string

const (
	OutcomeErrorShown        Outcome = "error_shown"
	OutcomeSaveBlocked       Outcome = "save_blocked"
	OutcomeInputRejected     Outcome = "input_rejected"
	OutcomeValidationMissing Outcome = "validation_missing"
	OutcomeFieldNotFound     Outcome = "field_not_found"
	OutcomeExecutionFailed   Outcome = "execution_failed"
)

// ErrorObservation is the append-only record of one executed test case
type ErrorObservation struct {
	TestCase           TestCase         `json:"test_case"`
	Page               string           `json:"page"`
	Timestamp          time.Time        `json:"timestamp"`
	ErrorDetected      bool             `json:"error_detected"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	ErrorLocatorHint   string           `json:"error_locator_hint,omitempty"`
	ErrorStrategy      string           `json:"error_strategy,omitempty"`
	MatchedExpected    bool             `json:"matched_expected"`
	SaveActionDisabled *bool            `json:"save_action_disabled"`
	InputRejected      bool             `json:"input_rejected"`
	BaselineValue      string           `json:"baseline_value"`
	Outcome            Outcome          `json:"outcome"`
	ConsoleMessages    []ConsoleMessage `json:"console_messages_during_test"`
	SnapshotRefs       []SnapshotRef    `json:"snapshot_refs,omitempty"`
	Recovered          bool             `json:"recovered"`
	RecoveryError      string           `json:"recovery_error,omitempty"`
}

// CredentialKind names which half of a credential pair was wrong
type CredentialKind string

const (
	CredentialIdentity CredentialKind = "identity"
	CredentialSecret   CredentialKind = "secret"
)

// AuthProbeResult classifies one wrong-credential submission
type AuthProbeResult struct {
	CredentialKind     CredentialKind   `json:"credential_kind"`
	Timestamp          time.Time        `json:"timestamp"`
	ErrorVisible       bool             `json:"error_visible"`
	BannerVisible      bool             `json:"banner_visible"`
	StillOnAuthSurface bool             `json:"still_on_auth_surface"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	ErrorLocatorHint   string           `json:"error_locator_hint,omitempty"`
	URLAfterSubmit     string           `json:"url_after_submit,omitempty"`
	ConsoleMessages    []ConsoleMessage `json:"console_messages,omitempty"`
	SnapshotRefs       []SnapshotRef    `json:"snapshot_refs,omitempty"`
	ProbeError         string           `json:"probe_error,omitempty"`
}
