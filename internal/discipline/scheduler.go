package discipline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper is what the scheduler runs once a day.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler runs a Sweeper every day at a fixed UTC time of day.
type Scheduler struct {
	sweeper Sweeper
	hour    int
	minute  int
	logger  *logrus.Logger
	now     func() time.Time

	ctx      context.Context
	cancelFn context.CancelFunc
	done     chan struct{}
}

func NewScheduler(s Sweeper, hour, minute int, logger *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sweeper:  s,
		hour:     hour,
		minute:   minute,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancelFn: cancel,
		done:     make(chan struct{}),
	}
}

// NextRun returns the first scheduled time strictly after t.
func (s *Scheduler) NextRun(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches the loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.cancelFn()
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		next := s.NextRun(s.now())
		s.logger.WithField("next_run", next).Debug("discipline sweep scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		n, err := s.sweeper.Sweep(s.ctx)
		if err != nil {
			s.logger.WithError(err).WithField("decayed", n).Error("discipline sweep finished with errors")
			continue
		}
		s.logger.WithField("decayed", n).Info("discipline sweep finished")
	}
}
