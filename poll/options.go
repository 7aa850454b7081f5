package poll

import (
	"time"

	"github.com/fzft/go-uthread-io/fiber"
	"github.com/joeycumines/go-catrate"
	"go.uber.org/zap"
)

const defaultBatchCapacity = 128

// DefaultLogRates bounds how often the same kind of failure is logged.
var DefaultLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

type Option func(*Reactor)

func WithLogger(l *zap.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBatchCapacity preallocates the bulk batch.
func WithBatchCapacity(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.bulkQueue = make([]*fiber.Fiber, 0, n)
		}
	}
}

// WithLogRates replaces DefaultLogRates. A nil or empty map disables rate
// limiting.
func WithLogRates(rates map[time.Duration]int) Option {
	return func(r *Reactor) {
		if len(rates) == 0 {
			r.limiter = nil
			return
		}
		r.limiter = catrate.NewLimiter(rates)
	}
}
