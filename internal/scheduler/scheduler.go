// Package scheduler runs the nightly archive job. The job fires at a
// fixed wall-clock time before the 04:00 logical-day rollover, so it
// always closes out the day that is about to end, and a startup
// catch-up covers runs missed while the process was down.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spheredev/sphere/internal/config"
	"github.com/spheredev/sphere/internal/logicaldate"
	"github.com/spheredev/sphere/internal/memory"
)

// Runner is the archive pipeline the scheduler drives.
type Runner interface {
	RunForDate(ctx context.Context, date logicaldate.Date) *memory.ArchiveResult
}

type Scheduler struct {
	runner Runner
	store  *Store
	cfg    config.ArchiveConfig
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(runner Runner, store *Store, cfg config.ArchiveConfig, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		store:  store,
		cfg:    cfg,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Start launches the scheduling loop. It returns immediately; Stop
// waits for a run in progress to finish.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	s.catchUp(ctx)

	for {
		now := s.now().In(s.loc)
		next := logicaldate.NextRun(now, s.cfg.Hour, s.cfg.Minute)
		s.logger.Info("next archive run scheduled", "at", next)

		if !sleepCtx(ctx, next.Sub(now)) {
			return
		}
		target := logicaldate.At(s.now().In(s.loc))
		s.run(ctx, target, false)
	}
}

// catchUp archives the most recently closed run window when its run is
// missing from the history, covering downtime across the scheduled time.
func (s *Scheduler) catchUp(ctx context.Context) {
	now := s.now().In(s.loc)
	lastRun := logicaldate.NextRun(now, s.cfg.Hour, s.cfg.Minute).AddDate(0, 0, -1)
	target := logicaldate.At(lastRun)

	done, err := s.store.Succeeded(target.String())
	if err != nil {
		s.logger.Error("catch-up check failed", "error", err)
		return
	}
	if done {
		return
	}
	s.logger.Info("running catch-up archive", "date", target)
	s.run(ctx, target, false)
}

// TriggerNow runs the archive for date immediately and records it as a
// manual run.
func (s *Scheduler) TriggerNow(ctx context.Context, date logicaldate.Date) *memory.ArchiveResult {
	return s.run(ctx, date, true)
}

func (s *Scheduler) run(ctx context.Context, date logicaldate.Date, manual bool) *memory.ArchiveResult {
	started := s.now()
	res := s.runner.RunForDate(ctx, date)

	detail := res.ArchiveFile
	if res.Error != "" {
		detail = res.Error
	}
	exec := &Execution{
		Date:       date.String(),
		StartedAt:  started,
		FinishedAt: s.now(),
		Success:    res.Success,
		Manual:     manual,
		Detail:     detail,
	}
	if err := s.store.Record(exec); err != nil {
		s.logger.Error("recording archive run failed", "error", err)
	}

	if res.Success {
		s.logger.Info("archive run finished", "date", date, "file", res.ArchiveFile, "manual", manual)
	} else {
		s.logger.Error("archive run failed", "date", date, "error", res.Error)
	}
	return res
}

// History returns the most recent recorded runs.
func (s *Scheduler) History(limit int) ([]Execution, error) {
	return s.store.Recent(limit)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("daily archive at %02d:%02d", s.cfg.Hour, s.cfg.Minute)
}
