package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SweepExpired drops every stale page and word entry now instead of waiting
// for the next lookup to find it.
func (s *Session) SweepExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.SweepExpired(ctx)
}

// ScheduleSweeps runs SweepExpired on a cron schedule ("@every 1h",
// "0 4 * * *"). The returned stop waits for a running sweep to finish.
func (s *Session) ScheduleSweeps(schedule string) (stop func(), err error) {
	logger := s.logger.With(slog.String("job", "ttl_sweep"))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger})))
	if _, err := c.AddFunc(schedule, func() {
		removed := s.SweepExpired(context.Background())
		logger.Debug("scheduled sweep finished", slog.Int("removed", removed))
	}); err != nil {
		return nil, fmt.Errorf("session: sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("ttl sweeps scheduled", slog.String("schedule", schedule))
	return func() { <-c.Stop().Done() }, nil
}

// cronLogger adapts slog to cron's logr-style logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
