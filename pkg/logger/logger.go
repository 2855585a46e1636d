// Package logger is the process-wide run log. Messages go to the file set
// with Init and, in verbose mode, are mirrored to stderr.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	globalLogger *log.Logger
	logFile      *os.File
	verbose      bool
	mirror       io.Writer = os.Stderr
	mu           sync.Mutex
)

// Init opens (or appends to) the log file at logPath.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	rebuild()
	return nil
}

// SetVerbose mirrors every message to stderr when on.
func SetVerbose(on bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = on
	rebuild()
}

// SetMirror replaces the verbose destination (stderr by default).
func SetMirror(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	mirror = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	var writers []io.Writer
	if logFile != nil {
		writers = append(writers, logFile)
	}
	if verbose && mirror != nil {
		writers = append(writers, mirror)
	}
	if len(writers) == 0 {
		globalLogger = nil
		return
	}
	globalLogger = log.New(io.MultiWriter(writers...), "", log.Ltime|log.Lmicroseconds)
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	rebuild()
}

func printf(level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Printf("["+level+"] "+format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) { printf("INFO", format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...interface{}) { printf("DEBUG", format, v...) }

// Error logs an error message.
func Error(format string, v ...interface{}) { printf("ERROR", format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...interface{}) { printf("WARN", format, v...) }

// Writer returns the log file for capturing subprocess output, or
// io.Discard when no file is open.
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
