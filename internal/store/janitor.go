package store

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DefaultJanitorSchedule purges expired cache rows every ten minutes.
const DefaultJanitorSchedule = "*/10 * * * *"

// Janitor deletes expired cache rows on a cron schedule. Reads never depend
// on it; it only keeps the table from growing without bound.
type Janitor struct {
	store    *Store
	schedule cron.Schedule
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor parses the cron expression (standard five fields) and returns a
// janitor ready to start. An empty expression selects DefaultJanitorSchedule.
func NewJanitor(store *Store, expr string) (*Janitor, error) {
	if expr == "" {
		expr = DefaultJanitorSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Janitor{
		store:    store,
		schedule: schedule,
		quit:     make(chan struct{}),
	}, nil
}

// Start launches the purge loop in a goroutine and returns immediately.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for it.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.quit) })
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	timer := time.NewTimer(time.Until(j.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.quit:
			return
		case <-timer.C:
			j.purge(ctx)
			timer.Reset(time.Until(j.schedule.Next(time.Now())))
		}
	}
}

func (j *Janitor) purge(ctx context.Context) {
	n, err := j.store.PurgeExpiredCache(ctx)
	if err != nil {
		logger.Error(ctx, "Cache purge failed", tag.Error(err))
		return
	}
	if n > 0 {
		logger.Debug(ctx, "Purged expired cache rows", tag.Count(int(n)))
	}
}
