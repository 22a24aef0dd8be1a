// Package logger prints pipeline diagnostics when verbose mode is on.
// Warnings are always printed; Debug, Info and Section only with --verbose.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	verbose bool
	out     io.Writer = os.Stderr
)

// SetVerbose toggles Debug, Info and Section output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects all log lines. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func Debug(format string, args ...any) { printf(true, "[DEBUG] ", format, args...) }

func Info(format string, args ...any) { printf(true, "[INFO] ", format, args...) }

// Warn reports soft failures such as skipped chunks or an empty document.
func Warn(format string, args ...any) { printf(false, "[WARN] ", format, args...) }

// Section starts a named block of related debug lines.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(out, "\n=== %s ===\n", name)
	}
}

// Timed logs how long the returned func took to be called.
//
//	defer logger.Timed("embed chunks")()
func Timed(step string) func() {
	start := time.Now()
	return func() {
		Debug("%s took %s", step, time.Since(start).Round(time.Millisecond))
	}
}

func printf(gated bool, prefix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if gated && !verbose {
		return
	}
	fmt.Fprintf(out, prefix+format+"\n", args...)
}
