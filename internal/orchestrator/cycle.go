package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/peek-labs/peek/pkg/models"
)

// Cycle is the handle of one upload-through-resolution attempt
type Cycle struct {
	token         uint64
	id            models.AnalysisID
	correlationID string
	source        string
	startedAt     time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	timeout clockwork.Timer

	abandon     func(*Cycle)
	abandonOnce sync.Once
}

func newCycle(token uint64, id models.AnalysisID, correlationID, source string, startedAt time.Time, abandon func(*Cycle)) *Cycle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cycle{
		token:         token,
		id:            id,
		correlationID: correlationID,
		source:        source,
		startedAt:     startedAt,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		abandon:       abandon,
	}
}

// Token is the generation number the orchestrator assigned to this cycle
func (c *Cycle) Token() uint64 { return c.token }

// ID is the analysis identifier returned by the service
func (c *Cycle) ID() models.AnalysisID { return c.id }

// CorrelationID tags every log line and event of the cycle
func (c *Cycle) CorrelationID() string { return c.correlationID }

// Done is closed once the poll loop has exited
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Cancel stops the poll loop and the timeout timer. If the cycle is still the
// active one the view returns to idle. Safe to call more than once.
func (c *Cycle) Cancel() {
	c.abandonOnce.Do(func() {
		if c.abandon != nil {
			c.abandon(c)
		}
	})
	c.stop()
}

// stop is Cancel without touching orchestrator state; callers may hold its lock
func (c *Cycle) stop() {
	c.once.Do(func() {
		c.cancel()
		if c.timeout != nil {
			c.timeout.Stop()
		}
	})
}

func (c *Cycle) cancelled() bool {
	return c.ctx.Err() != nil
}
