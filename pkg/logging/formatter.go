/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Log formatters for Kronos Explorer. CustomFormatter renders compact
coloured lines with sorted fields; ExplorerFormatter adds a tag per exploration event
(phase, snapshot, test case, auth probe, page, run).
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CustomFormatter provides structured single-line output
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

func (f *CustomFormatter) paint(code int, s string) string {
	if !f.Colors {
		return s
	}
	return fmt.Sprintf("\033[%dm%s\033[0m", code, s)
}

// header writes timestamp, level and caller
func (f *CustomFormatter) header(out *strings.Builder, entry *logrus.Entry) {
	if f.Timestamp {
		out.WriteString(f.paint(36, entry.Time.Format("2006-01-02 15:04:05.000")))
		out.WriteByte(' ')
	}
	out.WriteString(f.paint(f.getLevelColor(entry.Level), strings.ToUpper(entry.Level.String())))
	out.WriteByte(' ')
	if f.Caller && entry.HasCaller() {
		out.WriteString(f.paint(33, fmt.Sprintf("[%s:%d]", entry.Caller.File, entry.Caller.Line)))
		out.WriteByte(' ')
	}
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var out strings.Builder
	f.header(&out, entry)
	out.WriteString(entry.Message)
	if len(entry.Data) > 0 {
		out.WriteByte(' ')
		out.WriteString(f.formatFields(entry.Data))
	}
	out.WriteByte('\n')
	return []byte(out.String()), nil
}

// getLevelColor returns the ANSI color code for a log level
func (f *CustomFormatter) getLevelColor(level logrus.Level) int {
	switch level {
	case logrus.InfoLevel:
		return 32
	case logrus.WarnLevel:
		return 33
	case logrus.ErrorLevel:
		return 31
	case logrus.FatalLevel, logrus.PanicLevel:
		return 35
	default:
		return 37
	}
}

// formatFields renders fields in key order so lines are stable
func (f *CustomFormatter) formatFields(fields logrus.Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, f.paint(34, key)+"="+f.paint(32, f.formatValue(fields[key])))
	}
	return strings.Join(parts, " ")
}

// formatValue formats a field value
func (f *CustomFormatter) formatValue(value interface{}) string {
	switch v := value.(type) {
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format("15:04:05.000")
	case error:
		return v.Error()
	case string:
		if len(v) > 60 {
			v = v[:60] + "..."
		}
		if strings.ContainsAny(v, " \t") {
			return fmt.Sprintf("%q", v)
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExplorerFormatter tags exploration events so runs are easy to scan
type ExplorerFormatter struct {
	CustomFormatter
}

// Format formats a log entry with its event tag
func (f *ExplorerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var out strings.Builder
	f.header(&out, entry)
	if tag := eventTag(entry.Message); tag != "" {
		out.WriteString(f.paint(35, "["+tag+"]"))
		out.WriteByte(' ')
	}
	out.WriteString(entry.Message)
	if len(entry.Data) > 0 {
		out.WriteByte(' ')
		out.WriteString(f.formatFields(entry.Data))
	}
	out.WriteByte('\n')
	return []byte(out.String()), nil
}

func eventTag(message string) string {
	switch message {
	case msgPhase:
		return "PHASE"
	case msgSnapshot:
		return "SNAPSHOT"
	case msgObservation:
		return "TEST"
	case msgAuthProbe:
		return "AUTH"
	case msgPage:
		return "PAGE"
	case msgRunSummary:
		return "RUN"
	}
	return ""
}
