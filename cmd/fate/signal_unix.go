//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals lists the signals that should trigger a graceful
// shutdown of a long-running embedder. SIGTERM is what most process
// managers (systemd, kubernetes) send to request shutdown.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
