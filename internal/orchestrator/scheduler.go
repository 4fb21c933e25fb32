package orchestrator

import (
	"fmt"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// Scheduler fires the trigger at configured wall-clock times plus random
// jitter. It never stops the process: a failed trigger logs and the loop
// keeps going.
type Scheduler struct {
	cfg     config.ScheduleConfig
	trigger func()

	stop chan struct{}
	done chan struct{}

	// seams for tests
	now   func() time.Time
	sleep func(d time.Duration, cancel <-chan struct{}) bool
}

// NewScheduler builds a scheduler around a trigger callback.
func NewScheduler(cfg config.ScheduleConfig, trigger func()) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		trigger: trigger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	s.sleep = func(d time.Duration, cancel <-chan struct{}) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-cancel:
			return false
		}
	}
	return s
}

// Start launches the background loop. With run_on_start set the trigger
// fires immediately, before the first scheduled slot.
func (s *Scheduler) Start() {
	if s.cfg.RunOnStart {
		logger.Info("[scheduler] run on start")
		s.fire()
	}
	go s.loop()
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Next returns the upcoming fire time, without jitter. False when no
// schedule entries are configured.
func (s *Scheduler) Next() (time.Time, bool) {
	return nextFire(s.cfg.Times, s.now())
}

func (s *Scheduler) loop() {
	defer close(s.done)
	if len(s.cfg.Times) == 0 {
		logger.Info("[scheduler] no schedule entries, clock trigger idle")
		<-s.stop
		return
	}

	for {
		next, ok := nextFire(s.cfg.Times, s.now())
		if !ok {
			<-s.stop
			return
		}
		wait := next.Sub(s.now()) + jitter(s.cfg.JitterMinutes)
		logger.Info("[scheduler] next run", "at", next.Format("15:04"), "in", wait.Round(time.Second).String())

		if !s.sleep(wait, s.stop) {
			return
		}

		if p := s.cfg.VacationProbability; p > 0 && humanize.Bool(p) {
			logger.Info("[scheduler] vacation day, skipping this slot")
			continue
		}
		s.fire()
	}
}

// fire invokes the trigger, containing any panic so a trigger bug cannot
// take the scheduler loop down.
func (s *Scheduler) fire() {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("[scheduler] trigger panicked", "panic", fmt.Sprintf("%v", rec))
		}
	}()
	s.trigger()
}

// nextFire picks the earliest configured HH:MM slot after now, rolling to
// tomorrow when today's slots have all passed. Entries that fail to parse
// were rejected at config validation; they are skipped here regardless.
func nextFire(times []string, now time.Time) (time.Time, bool) {
	var best time.Time
	for _, ts := range times {
		parsed, err := time.Parse("15:04", ts)
		if err != nil {
			continue
		}
		candidate := time.Date(now.Year(), now.Month(), now.Day(),
			parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best, !best.IsZero()
}

// jitter draws a uniform delay in [0, J] minutes from the crypto source.
func jitter(maxMinutes int) time.Duration {
	if maxMinutes <= 0 {
		return 0
	}
	return time.Duration(humanize.IntIn(0, maxMinutes*60)) * time.Second
}
