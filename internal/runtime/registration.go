package runtime

import (
	"context"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/ids"
	"github.com/drblury/natsflow/internal/runtime/listener"
)

// ListenerRegistration binds an untyped listener to one or more subjects.
type ListenerRegistration struct {
	// ID is generated from the first subject when empty.
	ID       string
	Subjects []string
	Group    string
	Listener listener.MessageListener
	Filter   listener.FilterStrategy
	// Factory overrides the registrar's factory resolution.
	Factory     ContainerFactory
	AutoStartup *bool
	Phase       *int
}

// RegisterListener builds an Endpoint from cfg and hands it to the service registrar.
func RegisterListener(ctx context.Context, svc *Service, cfg ListenerRegistration) error {
	if svc == nil {
		return rterrors.ErrServiceRequired
	}
	if cfg.Listener == nil {
		return rterrors.ErrListenerRequired
	}
	return svc.RegisterEndpoint(ctx, cfg.endpoint(), cfg.Factory)
}

func (cfg ListenerRegistration) endpoint() *Endpoint {
	id := cfg.ID
	if id == "" {
		hint := ""
		if len(cfg.Subjects) > 0 {
			hint = cfg.Subjects[0]
		}
		id = ids.NewEndpointID(hint)
	}
	return &Endpoint{
		ID:          id,
		Subjects:    append([]string(nil), cfg.Subjects...),
		Group:       cfg.Group,
		Listener:    cfg.Listener,
		Filter:      cfg.Filter,
		AutoStartup: cfg.AutoStartup,
		Phase:       cfg.Phase,
	}
}
