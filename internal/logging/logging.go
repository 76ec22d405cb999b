// Package logging configures the shared logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// LogFormatter renders one line per entry.
// Format: [2025-01-02 15:04:05] [info ] [room-1] connected to 127.0.0.1:8080 attempt=2
type LogFormatter struct{}

// logFieldOrder lists fields printed first, in this order; the remaining fields follow sorted.
var logFieldOrder = []string{"status", "attempt", "peer", "count", "error"}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	scope := "-"
	if id, ok := entry.Data["channel"].(string); ok && id != "" {
		scope = id
	} else if component, ok := entry.Data["component"].(string); ok && component != "" {
		scope = component
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fields []string
	seen := map[string]bool{"channel": true, "component": true}
	for _, k := range logFieldOrder {
		if v, ok := entry.Data[k]; ok {
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			seen[k] = true
		}
	}
	var rest []string
	for k := range entry.Data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fields = append(fields, fmt.Sprintf("%s=%v", k, entry.Data[k]))
	}
	var fieldsStr string
	if len(fields) > 0 {
		fieldsStr = " " + strings.Join(fields, " ")
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%-5s] [%s] [%s:%d] %s%s\n", timestamp, level, scope, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%-5s] [%s] %s%s\n", timestamp, level, scope, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// Options configure Setup.
type Options struct {
	Level string
	// File enables rotating file output; empty logs to Stdout.
	File      string
	MaxSizeMB int
	// ReportCaller adds file:line to every entry.
	ReportCaller bool
}

// Setup configures the standard logrus logger. It can be called again to
// switch the destination; a previously opened log file is closed.
func Setup(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}
	log.SetLevel(level)
	log.SetFormatter(&LogFormatter{})
	log.SetReportCaller(opts.ReportCaller)

	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	logWriter = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: 3,
		Compress:   false,
	}
	log.SetOutput(logWriter)
	return nil
}

// Close flushes and closes the log file, if any, and restores Stdout.
func Close() {
	writerMu.Lock()
	defer writerMu.Unlock()
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	log.SetOutput(os.Stdout)
}
