package telemetry

import (
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/config"
)

// InitNewRelic starts the New Relic agent. It returns a nil application
// when tracing is disabled or no license key is configured.
func InitNewRelic(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return nil, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		log.Warn().Err(err).Msg("New Relic agent not connected yet, continuing")
	}

	return app, nil
}

// Shutdown flushes pending data. A nil app is ignored.
func Shutdown(app *newrelic.Application) {
	if app == nil {
		return
	}
	app.Shutdown(10 * time.Second)
}
