// Package logging wraps github.com/sirupsen/logrus with the same small
// surface as iwtcode-fanucAdapter's hand-rolled internal/middleware/logging
// package (Config, NewLogger, WithPrefix, Close), so call sites read the
// same way while getting logrus's structured fields and level filtering
// instead of a fmt.Sprintf-built message string.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config mirrors iwtcode-fanucAdapter's logging.Config field-for-field.
type Config struct {
	Enabled    bool
	Level      string // DEBUG, INFO, WARN, ERROR
	LogsDir    string
	SavingDays int
}

// Logger is a logrus.Entry with a prefix carried as a structured field
// rather than interpolated into the message text.
type Logger struct {
	config *Config
	entry  *logrus.Entry
	file   *os.File
}

// NewLogger builds a Logger. If cfg.LogsDir is set, log lines are written
// to both stdout and a date-stamped file under that directory.
func NewLogger(cfg *Config, component string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(parseLevel(cfg.Level))

	l := &Logger{config: cfg}

	if cfg.Enabled && cfg.LogsDir != "" {
		if err := os.MkdirAll(cfg.LogsDir, 0755); err == nil {
			logFile := filepath.Join(cfg.LogsDir, time.Now().Format("2006-01-02")+".log")
			if file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				l.file = file
				base.SetOutput(&multiWriter{w1: os.Stdout, w2: file})
			}
		}
	}
	if !cfg.Enabled {
		base.SetOutput(os.Stdout)
		base.SetLevel(logrus.PanicLevel + 1) // silence everything below
	}

	l.entry = base.WithField("component", component)

	if cfg.SavingDays > 0 {
		go l.cleanOldLogs()
	}
	return l
}

// WithField returns a Logger scoped to an additional structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{config: l.config, entry: l.entry.WithField(key, value), file: l.file}
}

// WithPrefix is a thin alias onto a "component" field for call sites
// that want a single short name rather than a key/value pair.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return l.WithField("component", prefix)
}

// Entry exposes the underlying logrus.Entry for collaborators (such as
// controller.Config.Log) that take a *logrus.Entry directly rather than
// this package's thin wrapper.
func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}

func (l *Logger) cleanOldLogs() {
	for range time.Tick(24 * time.Hour) {
		files, err := os.ReadDir(l.config.LogsDir)
		if err != nil {
			l.Error("failed to read logs directory", "error", err)
			continue
		}
		cutoff := time.Now().AddDate(0, 0, -l.config.SavingDays)
		for _, file := range files {
			if info, err := file.Info(); err == nil && !file.IsDir() && info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(l.config.LogsDir, file.Name())); err != nil {
					l.Error("failed to delete old log file", "file", file.Name(), "error", err)
				}
			}
		}
	}
}

func (l *Logger) withFields(fields []interface{}) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		data[key] = fields[i+1]
	}
	return l.entry.WithFields(data)
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.withFields(fields).Debug(msg) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.withFields(fields).Info(msg) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.withFields(fields).Warn(msg) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.withFields(fields).Error(msg) }

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type multiWriter struct {
	w1, w2 *os.File
}

func (m *multiWriter) Write(p []byte) (int, error) {
	n, err := m.w1.Write(p)
	if err != nil {
		return n, err
	}
	_, _ = m.w2.Write(p)
	return n, nil
}
