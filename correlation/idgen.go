package correlation

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// IDLayout is the timestamp layout of a correlation ID
const IDLayout = "20060102_150405"

// IDGenerator produces correlation IDs from the wall clock. The first ID in a
// second is the bare timestamp; later ones in the same second carry a random suffix.
type IDGenerator struct {
	clock clock.Clock
	loc   *time.Location

	mu   sync.Mutex
	last string
}

// NewIDGenerator creates a generator. A nil clock means the system clock and a
// nil location means time.Local.
func NewIDGenerator(clk clock.Clock, loc *time.Location) *IDGenerator {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.Local
	}
	return &IDGenerator{clock: clk, loc: loc}
}

// Next returns a new correlation ID
func (g *IDGenerator) Next() string {
	stamp := g.clock.Now().In(g.loc).Format(IDLayout)

	g.mu.Lock()
	defer g.mu.Unlock()

	if stamp != g.last {
		g.last = stamp
		return stamp
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return stamp + "_" + suffix
}
