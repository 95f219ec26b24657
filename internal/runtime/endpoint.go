package runtime

import (
	"fmt"

	rterrors "github.com/drblury/natsflow/internal/runtime/errors"
	"github.com/drblury/natsflow/internal/runtime/ids"
	"github.com/drblury/natsflow/internal/runtime/listener"
)

// Endpoint describes one subject binding: which subjects to subscribe to
// and which listener receives the messages.
type Endpoint struct {
	// ID must be unique within a registry. Leave empty to have
	// NewEndpoint generate one.
	ID       string
	Subjects []string
	// Group, when set, lets several containers be started and stopped together.
	Group    string
	Listener listener.MessageListener
	// Filter overrides the factory's filter strategy for this endpoint.
	Filter listener.FilterStrategy
	// AutoStartup and Phase override the factory defaults when non-nil.
	AutoStartup *bool
	Phase       *int
}

// NewEndpoint builds an endpoint with a generated id.
func NewEndpoint(l listener.MessageListener, subjects ...string) *Endpoint {
	hint := ""
	if len(subjects) > 0 {
		hint = subjects[0]
	}
	return &Endpoint{
		ID:       ids.NewEndpointID(hint),
		Subjects: append([]string(nil), subjects...),
		Listener: l,
	}
}

// Validate checks the fields every registration needs.
func (e *Endpoint) Validate() error {
	if e == nil {
		return rterrors.ErrEndpointRequired
	}
	if e.ID == "" {
		return rterrors.ErrEndpointIDRequired
	}
	if len(e.Subjects) == 0 {
		return fmt.Errorf("endpoint %q: %w", e.ID, rterrors.ErrSubjectsRequired)
	}
	return nil
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("Endpoint [id=%s, subjects=%v, group=%s]", e.ID, e.Subjects, e.Group)
}
