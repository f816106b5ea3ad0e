// Package logging adapts logrus to the stagequeue printf-style Logger.
package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Formatter renders entries as "[time] LEVEL: [target] message {k=v}".
type Formatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	default:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	}

	targetColor := color.New(color.FgBlue)
	fieldColor := color.New(color.FgWhite, color.Faint)
	if f.DisableColors {
		levelColor.DisableColor()
		targetColor.DisableColor()
		fieldColor.DisableColor()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", entry.Time.Format(f.TimestampFormat), levelColor.Sprint(levelText))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "target" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if target, ok := entry.Data["target"]; ok {
		fmt.Fprintf(&b, "[%s] ", targetColor.Sprint(target))
	}
	b.WriteString(entry.Message)

	if len(keys) > 0 {
		fields := make([]string, len(keys))
		for i, k := range keys {
			fields[i] = fmt.Sprintf("%s=%v", k, entry.Data[k])
		}
		b.WriteString(fieldColor.Sprint(" {" + strings.Join(fields, ", ") + "}"))
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Logger implements stagequeue.Logger on top of a logrus entry.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger writing to out. An unparsable level falls back to info.
func New(out io.Writer, level string, colors bool) *Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(out)
	log.SetFormatter(&Formatter{
		TimestampFormat: "15:04:05",
		DisableColors:   !colors,
	})

	return &Logger{entry: logrus.NewEntry(log)}
}

// WithTarget returns a logger tagging every entry with target.
func (l *Logger) WithTarget(target string) *Logger {
	return &Logger{entry: l.entry.WithField("target", target)}
}

// WithField returns a logger carrying an extra structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// Level returns the logger's level name.
func (l *Logger) Level() string {
	return l.entry.Logger.GetLevel().String()
}

// Debug implements stagequeue.Logger
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info implements stagequeue.Logger
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn implements stagequeue.Logger
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error implements stagequeue.Logger
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}
