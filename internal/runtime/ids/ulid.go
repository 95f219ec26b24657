package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// EndpointIDPrefix starts every generated endpoint id.
const EndpointIDPrefix = "natsflow-listener#"

// NewEndpointID returns a unique, registration-ordered endpoint id. The
// optional hint (usually the first subject) is folded in for readability.
func NewEndpointID(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return EndpointIDPrefix + CreateULID()
	}
	return EndpointIDPrefix + hint + "#" + CreateULID()
}
