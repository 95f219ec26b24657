package runtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/natsflow/internal/runtime/codec"
	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
	"github.com/drblury/natsflow/internal/runtime/logging"
)

// Template publishes payloads through the shared connection.
type Template struct {
	provider       listener.ConnectionProvider
	defaultSubject string
	logger         logging.ServiceLogger
}

// NewTemplate requires a provider. PublishDefault sends to defaultSubject.
func NewTemplate(provider listener.ConnectionProvider, defaultSubject string, logger logging.ServiceLogger) (*Template, error) {
	if provider == nil {
		return nil, rterrors.ErrConnectionProviderRequired
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	return &Template{
		provider:       provider,
		defaultSubject: defaultSubject,
		logger:         logger.With(logging.LogFields{"component": "template"}),
	}, nil
}

func (t *Template) DefaultSubject() string { return t.defaultSubject }

// Publish encodes payload and sends it to subject. []byte and string are
// sent as-is, proto.Message in protobuf wire format, anything else as JSON.
func (t *Template) Publish(ctx context.Context, subject string, payload any) error {
	if subject == "" {
		return rterrors.ErrSubjectRequired
	}
	if payload == nil {
		return rterrors.ErrPayloadRequired
	}
	data, err := codec.EncodePayload(payload)
	if err != nil {
		return err
	}
	return t.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishDefault sends payload to the default subject.
func (t *Template) PublishDefault(ctx context.Context, payload any) error {
	return t.Publish(ctx, t.defaultSubject, payload)
}

// PublishMsg sends msg unchanged apart from trace context headers.
func (t *Template) PublishMsg(ctx context.Context, msg *nats.Msg) error {
	if msg == nil {
		return rterrors.ErrPayloadRequired
	}
	if msg.Subject == "" {
		return rterrors.ErrSubjectRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := t.provider.Connection(ctx)
	if err != nil {
		return err
	}

	injectTraceContext(ctx, msg)

	if err := conn.PublishMsg(msg); err != nil {
		return rterrors.NewConnectionError(fmt.Sprintf("publish to %q", msg.Subject), err)
	}
	t.logger.Trace("Published message", logging.LogFields{"subject": msg.Subject, "payload_size": len(msg.Data)})
	return nil
}

// injectTraceContext only attaches a header map when the propagator wrote
// something, so header-less servers keep accepting plain publishes.
func injectTraceContext(ctx context.Context, msg *nats.Msg) {
	carrier := propagation.HeaderCarrier(http.Header{})
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	for k, v := range carrier {
		msg.Header[k] = v
	}
}
