package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"orbistack.org/internal/obs"
)

const defaultSweepSchedule = "@hourly"

// Sweeper periodically transitions overdue keys to the expired state. The
// sweep itself lives in Service.ExpireOld and stays idempotent, so overlap
// between schedules is harmless.
type Sweeper struct {
	svc      *Service
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewSweeper constructs a Sweeper running on the given cron schedule
// (defaulting to hourly).
func NewSweeper(svc *Service, schedule string) (*Sweeper, error) {
	if svc == nil {
		return nil, errors.New("apikey: service is required")
	}
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	return &Sweeper{
		svc:      svc,
		schedule: schedule,
		timeout:  30 * time.Second,
		cron:     cron.New(),
	}, nil
}

// Start registers the sweep job and starts the scheduler.
func (w *Sweeper) Start() error {
	_, err := w.cron.AddFunc(w.schedule, w.sweep)
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (w *Sweeper) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.svc.ExpireOld(ctx); err != nil {
		obs.Warn("api key expiry sweep failed", map[string]any{"error": err.Error()})
	}
}
