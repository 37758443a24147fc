package image_cache

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor sweeps expired entries out of a Store on a fixed schedule. Expiry
// correctness does not depend on it, Get already refuses stale entries; the
// janitor's job is returning the memory they hold.
type Janitor struct {
	store    *Store
	interval time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

func NewJanitor(store *Store, interval time.Duration, logger *zap.Logger) *Janitor {
	bridge := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(bridge),
		cron.WithChain(cron.Recover(bridge)),
	)
	return &Janitor{
		store:    store,
		interval: interval,
		cron:     c,
		logger:   logger,
	}
}

func (j *Janitor) Start() error {
	spec := fmt.Sprintf("@every %s", j.interval)
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return fmt.Errorf("schedule cache sweep: %w", err)
	}
	j.cron.Start()
	j.logger.Info("cache janitor started", zap.Duration("interval", j.interval))
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("cache janitor stopped")
}

func (j *Janitor) sweep() {
	removed := j.store.Sweep()
	if removed > 0 {
		j.logger.Info("cache sweep",
			zap.Int("removed", removed),
			zap.Int("remaining", j.store.Len()),
		)
		return
	}
	j.logger.Debug("cache sweep", zap.Int("removed", 0))
}

// cronLogger adapts zap to the cron.Logger interface. Scheduler chatter goes
// to debug; only panics recovered by the chain surface as errors.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
