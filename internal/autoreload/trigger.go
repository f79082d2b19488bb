package autoreload

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditledger-backend/pkg/logger"
)

type trigger interface {
	MaybeTrigger(ctx context.Context, accountID uuid.UUID) (TriggerResult, error)
}

// AsyncTrigger runs MaybeTrigger in the background, detached from the
// request's cancellation.
type AsyncTrigger struct {
	controller trigger
	logg       *logger.Logger
	wg         sync.WaitGroup
}

func NewAsyncTrigger(controller trigger, logg *logger.Logger) *AsyncTrigger {
	if logg == nil {
		logg = logger.Nop()
	}
	return &AsyncTrigger{controller: controller, logg: logg}
}

func (a *AsyncTrigger) Trigger(ctx context.Context, accountID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		result, err := a.controller.MaybeTrigger(ctx, accountID)
		if err != nil {
			a.logg.Error(a.logg.WithField(ctx, "result", string(result)), "auto-reload trigger failed", err)
			return
		}
		a.logg.Debug(a.logg.WithField(ctx, "result", string(result)), "auto-reload evaluated")
	}()
}

// Wait blocks until in-flight triggers finish.
func (a *AsyncTrigger) Wait() {
	a.wg.Wait()
}
