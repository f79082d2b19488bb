package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/creditledger-backend/pkg/logger"
)

type graceExpirer interface {
	ExpireGrace(ctx context.Context) (int, error)
}

// NewSubscriptionExpiryJob cancels past-due subscriptions whose grace ran out.
func NewSubscriptionExpiryJob(logg *logger.Logger, expirer graceExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if expirer == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &subscriptionExpiryJob{logg: logg, expirer: expirer}, nil
}

type subscriptionExpiryJob struct {
	logg    *logger.Logger
	expirer graceExpirer
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-grace-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.expirer.ExpireGrace(ctx)
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", expired), "past-due subscriptions expired")
	}
	return err
}
