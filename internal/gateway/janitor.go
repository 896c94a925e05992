package gateway

import (
	"context"
	"time"

	"github.com/dlorenzo/portfolio-gate/internal/accesslog"
	"github.com/dlorenzo/portfolio-gate/internal/metrics"
	"github.com/dlorenzo/portfolio-gate/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Janitor performs periodic housekeeping: updating the tracked-identity and
// partition-size gauges. The limiter's own amortized sweep handles expired
// entries; the janitor only makes state observable.
type Janitor struct {
	limiter  *ratelimit.Limiter
	logs     *accesslog.Store
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(limiter *ratelimit.Limiter, logs *accesslog.Store, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		limiter:  limiter,
		logs:     logs,
		interval: interval,
		log:      log,
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	metrics.RateEntries.Set(float64(j.limiter.Len()))

	size, err := j.logs.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read partition size failed")
	} else {
		metrics.LogPartitionBytes.Set(float64(size))
	}

	j.log.Debug().Msg("janitor: tick complete")
}
