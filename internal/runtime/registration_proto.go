package runtime

import (
	"context"

	"google.golang.org/protobuf/proto"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
)

// ProtoListenerRegistration binds a typed protobuf handler to subjects.
type ProtoListenerRegistration[T proto.Message] struct {
	ID          string
	Subjects    []string
	Group       string
	Handler     listener.ProtoHandler[T]
	Filter      listener.FilterStrategy
	Factory     ContainerFactory
	AutoStartup *bool
	Phase       *int
}

// RegisterProtoListener unmarshals every payload into a fresh T before
// calling cfg.Handler. T must be a pointer to a generated message type.
func RegisterProtoListener[T proto.Message](ctx context.Context, svc *Service, cfg ProtoListenerRegistration[T]) error {
	if svc == nil {
		return rterrors.ErrServiceRequired
	}
	l, err := listener.NewProtoListener(cfg.Handler)
	if err != nil {
		return err
	}
	return RegisterListener(ctx, svc, ListenerRegistration{
		ID:          cfg.ID,
		Subjects:    cfg.Subjects,
		Group:       cfg.Group,
		Listener:    l,
		Filter:      cfg.Filter,
		Factory:     cfg.Factory,
		AutoStartup: cfg.AutoStartup,
		Phase:       cfg.Phase,
	})
}
