/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Custom log formatters. CustomFormatter prints a compact coloured line with sorted
fields; FuzzerFormatter adds a short tag for pipeline stages, distance and fuzzing events and
renders the fields those events carry.
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// CustomFormatter provides compact, structured logging output
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, "", f.formatValue)
}

func (f *CustomFormatter) format(entry *logrus.Entry, tag string, value func(string, interface{}) string) ([]byte, error) {
	var out strings.Builder

	if f.Timestamp {
		f.paint(&out, 36, entry.Time.Format("2006-01-02 15:04:05.000"))
		out.WriteByte(' ')
	}
	f.paint(&out, f.getLevelColor(entry.Level), strings.ToUpper(entry.Level.String()))
	out.WriteByte(' ')
	if tag != "" {
		f.paint(&out, 35, "["+tag+"]")
		out.WriteByte(' ')
	}
	if f.Caller && entry.HasCaller() {
		f.paint(&out, 33, fmt.Sprintf("[%s:%d]", entry.Caller.File, entry.Caller.Line))
		out.WriteByte(' ')
	}
	out.WriteString(entry.Message)

	keys := maps.Keys(entry.Data)
	sort.Strings(keys)
	for _, k := range keys {
		out.WriteByte(' ')
		if f.Colors {
			fmt.Fprintf(&out, "\033[34m%s\033[0m=\033[32m%s\033[0m", k, value(k, entry.Data[k]))
		} else {
			fmt.Fprintf(&out, "%s=%s", k, value(k, entry.Data[k]))
		}
	}
	out.WriteByte('\n')
	return []byte(out.String()), nil
}

func (f *CustomFormatter) paint(out *strings.Builder, color int, s string) {
	if f.Colors {
		fmt.Fprintf(out, "\033[%dm%s\033[0m", color, s)
		return
	}
	out.WriteString(s)
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

// formatValue formats a field value appropriately
func (f *CustomFormatter) formatValue(_ string, value interface{}) string {
	switch v := value.(type) {
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format("15:04:05.000")
	case error:
		return v.Error()
	case string:
		if len(v) > 50 {
			return v[:50] + "..."
		}
		return v
	case []byte:
		if len(v) > 20 {
			return fmt.Sprintf("[%d bytes]", len(v))
		}
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FuzzerFormatter tags pipeline and fuzzing events.
type FuzzerFormatter struct {
	CustomFormatter
}

// Format formats fuzzer-specific log entries with enhanced information
func (f *FuzzerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, f.getFuzzerPrefix(entry), f.formatFuzzerValue)
}

// getFuzzerPrefix picks the tag from the stage field or the message.
func (f *FuzzerFormatter) getFuzzerPrefix(entry *logrus.Entry) string {
	if stage, ok := entry.Data["stage"].(string); ok {
		return stage
	}
	msg := entry.Message
	switch {
	case strings.Contains(msg, "closest"), strings.Contains(msg, "Distance"):
		return "DIST"
	case strings.Contains(msg, "Test case executed"):
		return "EXEC"
	case strings.Contains(msg, "Crash"):
		return "CRASH"
	case strings.Contains(msg, "Hang"):
		return "HANG"
	case strings.Contains(msg, "Statistics"):
		return "STATS"
	case strings.Contains(msg, "Worker"):
		return "WORKER"
	case strings.Contains(msg, "engine"):
		return "ENGINE"
	}
	return ""
}

// formatFuzzerValue formats fuzzer-specific field values
func (f *FuzzerFormatter) formatFuzzerValue(key string, value interface{}) string {
	switch key {
	case "stage":
		return f.formatValue(key, value)
	case "distance", "best_distance", "temperature", "energy":
		if v, ok := value.(float64); ok {
			return fmt.Sprintf("%.4f", v)
		}
	case "executions_per_sec":
		if v, ok := value.(float64); ok {
			return fmt.Sprintf("%.2f/sec", v)
		}
	case "test_case_id", "parent_id":
		if s, ok := value.(string); ok && len(s) > 8 {
			return s[:8] + "..."
		}
	}
	return f.formatValue(key, value)
}
