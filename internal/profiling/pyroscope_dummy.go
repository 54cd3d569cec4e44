//go:build !pyroscope
// +build !pyroscope

// Package profiling starts continuous profiling in builds tagged pyroscope.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start is a dummy function that does nothing.
func Start(log *logging.Logger, serverAddress, appName string) error {
	if serverAddress != "" {
		log.Warningf("Pyroscope is disabled in this build, not profiling to %s", serverAddress)
	}
	return nil
}
