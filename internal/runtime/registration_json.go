package runtime

import (
	"context"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/listener"
)

// JSONListenerRegistration binds a typed JSON handler to subjects.
type JSONListenerRegistration[T any] struct {
	ID          string
	Subjects    []string
	Group       string
	Handler     listener.JSONHandler[T]
	Filter      listener.FilterStrategy
	Factory     ContainerFactory
	AutoStartup *bool
	Phase       *int
}

// RegisterJSONListener decodes every payload into T before calling cfg.Handler.
func RegisterJSONListener[T any](ctx context.Context, svc *Service, cfg JSONListenerRegistration[T]) error {
	if svc == nil {
		return rterrors.ErrServiceRequired
	}
	l, err := listener.NewJSONListener(cfg.Handler)
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
