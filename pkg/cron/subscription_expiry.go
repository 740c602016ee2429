package cron

import (
	"context"
	"time"
)

const (
	JobSubscriptionExpiry   = "subscription-expiry"
	JobSubscriptionReminder = "subscription-reminder"
	JobGatewayResync        = "gateway-resync"
)

// SubscriptionSweeper is implemented by *billing.Service.
type SubscriptionSweeper interface {
	ExpireLapsed(ctx context.Context, now time.Time) (int, error)
	RemindExpiring(ctx context.Context, now time.Time) (int, error)
	ResyncWithGateway(ctx context.Context) (int, error)
}

// RegisterSubscriptionJobs schedules the daily subscription sweeps (UTC):
// lapsed records are expired at 00:30, the gateway is re-read at 03:00 and
// renewal reminders go out at 09:00.
func RegisterSubscriptionJobs(s *Scheduler, sweeper SubscriptionSweeper) error {
	jobs := []struct {
		name string
		spec string
		job  Job
	}{
		{JobSubscriptionExpiry, "30 0 * * *", func(ctx context.Context) (int, error) {
			return sweeper.ExpireLapsed(ctx, time.Now().UTC())
		}},
		{JobGatewayResync, "0 3 * * *", sweeper.ResyncWithGateway},
		{JobSubscriptionReminder, "0 9 * * *", func(ctx context.Context) (int, error) {
			return sweeper.RemindExpiring(ctx, time.Now().UTC())
		}},
	}

	for _, j := range jobs {
		if err := s.Register(j.name, j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}
