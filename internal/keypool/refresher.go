package keypool

import (
	"log/slog"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/schedule"
)

// NewRefreshJob schedules RefreshFailureCache. The job refreshes once on
// start so the first Issue calls already see recent failures.
func NewRefreshJob(m *Manager, cfg config.CredentialsPolicy, logger *slog.Logger) *schedule.Job {
	return schedule.New(schedule.Config{
		Name:         "failure-cache-refresh",
		Interval:     cfg.RefreshInterval,
		MisfireGrace: cfg.MisfireGrace,
		RunOnStart:   true,
	}, m.RefreshFailureCache, logger)
}
