// Package reference generates the external references that correlate a
// payment attempt across the client, the relay and the gateway.
package reference

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const uidPrefixLength = 8

// Generator yields ACTIVATION_<uidPrefix>_<unixMillis> references. The millisecond
// component is strictly increasing within a process, so two attempts inside the
// same millisecond still get distinct references.
type Generator struct {
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	last int64
}

func NewGenerator(prefix string) *Generator {
	return &Generator{prefix: prefix, now: time.Now}
}

func (g *Generator) Next(userID uuid.UUID) string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return fmt.Sprintf("%s_%s_%d", g.prefix, uidPrefix(userID), ms)
}

func uidPrefix(userID uuid.UUID) string {
	return userID.String()[:uidPrefixLength]
}
