package transport

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"
)

// NATSEventOptions returns client options that log disconnects, reconnects,
// closes and async errors to logger. A nil logger discards them.
func NATSEventOptions(logger watermill.LoggerAdapter) []nats.Option {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return []nats.Option{
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS connection lost", err, watermill.LogFields{"connection": nc.Opts.Name})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection restored", watermill.LogFields{
				"connection": nc.Opts.Name,
				"url":        nc.ConnectedUrlRedacted(),
			})
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Debug("NATS connection closed", watermill.LogFields{"connection": nc.Opts.Name})
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := watermill.LogFields{"connection": nc.Opts.Name}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			logger.Error("NATS async error", err, fields)
		}),
	}
}
