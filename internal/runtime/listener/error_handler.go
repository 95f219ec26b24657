package listener

import (
	"github.com/nats-io/nats.go"

	"github.com/drblury/natsflow/internal/runtime/logging"
)

// ErrorHandler decides what happens to a listener failure. A returned error
// is logged and dropped unless errors.Fatal marked it, in which case the
// container re-raises it on the dispatch goroutine.
type ErrorHandler interface {
	HandleError(err error, msg *nats.Msg) error
}

// ErrorHandlerFunc adapts a plain function to ErrorHandler.
type ErrorHandlerFunc func(err error, msg *nats.Msg) error

func (f ErrorHandlerFunc) HandleError(err error, msg *nats.Msg) error {
	return f(err, msg)
}

// LoggingErrorHandler logs the failure and carries on. Containers fall back
// to it when no handler is configured.
type LoggingErrorHandler struct {
	logger logging.ServiceLogger
}

func NewLoggingErrorHandler(logger logging.ServiceLogger) *LoggingErrorHandler {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &LoggingErrorHandler{logger: logger}
}

func (h *LoggingErrorHandler) HandleError(err error, msg *nats.Msg) error {
	fields := logging.LogFields{}
	if msg != nil {
		fields["subject"] = msg.Subject
		fields["payload_size"] = len(msg.Data)
	}
	h.logger.Error("Error while processing message", err, fields)
	return nil
}
