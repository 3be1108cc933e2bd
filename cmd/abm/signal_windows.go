//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals relays Ctrl+C so a run can stop scheduling replicates.
// Windows has no SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
