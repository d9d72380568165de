/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: dashboard_test.go
Description: Tests for the documentation generator: artifact layout, explicit failure
marking and sanitizing of device-captured text.
*/

package reporting_test

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/reporting"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleRun() *interfaces.DeviceRun {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	maxLen := 20.0
	blocked := true
	required := interfaces.TestCase{FieldID: "identifier", Category: interfaces.CategoryRequiredEmpty, ExpectedErrorPattern: "required"}
	tooLong := interfaces.TestCase{FieldID: "location", Category: interfaces.CategoryExceedsMaxLength, InvalidValue: strings.Repeat("X", 56)}
	contact := interfaces.TestCase{FieldID: "contact", Category: interfaces.CategoryPatternViolation, InvalidValue: "!!!"}

	return &interfaces.DeviceRun{
		RunID:      "run-42",
		Device:     "10.0.0.5",
		Name:       "Rack <b>4</b>",
		Model:      "KRONOS-2R-HVXX-A2F",
		Firmware:   "2.4.1",
		Multiplier: 1,
		Status:     interfaces.RunPartial,
		Error:      "viewport 1024x768: device budget exhausted",
		StartedAt:  start,
		FinishedAt: start.Add(12 * time.Minute),
		Viewports: []interfaces.ViewportRun{{
			Viewport: "1024x768",
			Status:   interfaces.RunPartial,
			AuthProbes: []interfaces.AuthProbeResult{
				{CredentialKind: interfaces.CredentialSecret, ErrorVisible: true, StillOnAuthSurface: true, ErrorMessage: "Invalid password"},
			},
			Snapshots: 14,
			Pages: []interfaces.PageResult{
				{
					Path:   "general",
					Title:  "General configuration",
					URL:    "https://10.0.0.5/general",
					Status: interfaces.PagePartial,
					Rules: &interfaces.ValidationRuleSet{
						DeclarativeConstraints: []interfaces.FieldConstraint{
							{FieldID: "identifier", Kind: interfaces.KindRequired},
							{FieldID: "identifier", Kind: interfaces.KindMaxLength, BoundValue: "20", Max: &maxLen},
						},
						ErrorMessageTemplates: []string{"Identifier is required"},
					},
					TestCases: []interfaces.TestCase{required, tooLong, contact},
					Observations: []interfaces.ErrorObservation{
						{
							TestCase:           required,
							Outcome:            interfaces.OutcomeErrorShown,
							ErrorMessage:       `<script>alert(1)</script>Identifier is required`,
							MatchedExpected:    true,
							SaveActionDisabled: &blocked,
							Recovered:          true,
						},
						{
							TestCase:      tooLong,
							Outcome:       interfaces.OutcomeExecutionFailed,
							ErrorMessage:  "could not set value",
							RecoveryError: "recovery navigation failed",
						},
					},
				},
				{
					Path:   "gnss",
					Title:  "GNSS configuration",
					Status: interfaces.PagePartial,
					Rules: &interfaces.ValidationRuleSet{
						Failures: map[string]string{"dynamic": "control vanished"},
					},
				},
				{
					Path:    "time",
					Title:   "Time configuration",
					Status:  interfaces.PageFailed,
					Failure: "navigation failed: timeout",
				},
				{
					Path:       "ptp",
					Title:      "PTP configuration",
					Status:     interfaces.PageSkipped,
					SkipReason: `model "KRONOS-2R-HVXX-A2F" does not support ptp`,
				},
				{
					Path:          "network",
					Title:         "Network configuration",
					Status:        interfaces.PageCompleted,
					ProbingDenied: true,
					SkipReason:    "adversarial input disabled for this page",
					Rules:         &interfaces.ValidationRuleSet{},
				},
			},
		}},
	}
}

func TestGenerateWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	gen := reporting.NewGenerator(dir, quietLogger())

	a, err := gen.Generate(sampleRun())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "10.0.0.5", "run-42"), a.Dir)
	for _, p := range a.Paths() {
		assert.FileExists(t, p)
	}

	raw, err := os.ReadFile(a.JSON)
	require.NoError(t, err)
	var decoded interfaces.DeviceRun
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-42", decoded.RunID)
	assert.Len(t, decoded.Viewports[0].Pages, 5)
}

func TestReportMarksFailures(t *testing.T) {
	gen := reporting.NewGenerator(t.TempDir(), quietLogger())
	a, err := gen.Generate(sampleRun())
	require.NoError(t, err)

	raw, err := os.ReadFile(a.HTML)
	require.NoError(t, err)
	page := string(raw)

	assert.Contains(t, page, "Extraction failed in step dynamic: control vanished")
	assert.Contains(t, page, "Constraint list may be incomplete because extraction failed.")
	assert.Contains(t, page, "Extraction failed: no rule set was produced for this page.")
	assert.Contains(t, page, "Failure: navigation failed: timeout")
	assert.Contains(t, page, "Not executed for fields: contact")
	assert.Contains(t, page, "recovery failed: recovery navigation failed")
	assert.Contains(t, page, "No declarative constraints found.")
	assert.Contains(t, page, "Adversarial input disabled for this page.")
	assert.Contains(t, page, "(56 chars)")

	assert.NotContains(t, page, "<script>alert(1)</script>")
	assert.NotContains(t, page, "<b>4</b>")
	assert.Contains(t, page, "Identifier is required")
}

func TestMarkdownReport(t *testing.T) {
	gen := reporting.NewGenerator(t.TempDir(), quietLogger())
	paths, err := gen.Document(sampleRun())
	require.NoError(t, err)
	require.Len(t, paths, 3)

	raw, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	md := string(raw)

	assert.Contains(t, md, "# Rack 4 (10.0.0.5)")
	assert.Contains(t, md, "## Viewport 1024x768")
	assert.Contains(t, md, "Extraction failed")
	assert.Contains(t, md, "| Field |")
	assert.NotContains(t, md, "<table>")
}

func TestGenerateRejectsNilRun(t *testing.T) {
	_, err := reporting.NewGenerator(t.TempDir(), quietLogger()).Generate(nil)
	assert.Error(t, err)
}
