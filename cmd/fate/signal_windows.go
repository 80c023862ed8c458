//go:build windows

package main

import (
	"os"
)

// terminationSignals lists the signals that should trigger a graceful
// shutdown of a long-running embedder. Windows primarily uses
// os.Interrupt (Ctrl+C).
var terminationSignals = []os.Signal{os.Interrupt}
