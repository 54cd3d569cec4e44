//go:build pyroscope
// +build pyroscope

package profiling

import (
	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start starts continuous profiling towards a pyroscope server, if an
// address is configured.
func Start(log *logging.Logger, serverAddress, appName string) error {
	if serverAddress == "" {
		return nil
	}
	log.Info("Starting Pyroscope")

	_, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": "udpcomm",
		},
	})
	if err != nil {
		return err
	}
	log.Infof("Pyroscope started successfully at %s, app name: %s", serverAddress, appName)
	return nil
}
