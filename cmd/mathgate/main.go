// Package main implements the entry point for mathgate, the HTTP gateway
// in front of the MathCore compute service.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/c360/mathgate/errors"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mathgate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		slog.Error("Application failed", "error", err, "class", errors.Classify(err), "exit_code", code)
		os.Exit(code)
	}
}

// Exit codes; 2 is taken by the panic handler
const (
	exitFailure = 1
	exitConfig  = 78
)

// exitCode separates configuration mistakes from runtime failures
func exitCode(err error) int {
	if errors.Classify(err) == errors.ErrorInvalid {
		return exitConfig
	}
	return exitFailure
}
