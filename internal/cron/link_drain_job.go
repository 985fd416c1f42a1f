package cron

import (
	"context"

	"github.com/qreahq/qrea-backend/pkg/logger"
	pkgerrors "github.com/qreahq/qrea-backend/pkg/errors"
)

type linkDrainer interface {
	DrainOnce(ctx context.Context)
	Len(ctx context.Context) (int, error)
}

// LinkDrainJob retries deferred event-to-subscription links on the cron
// cadence.
type LinkDrainJob struct {
	queue linkDrainer
	logg  *logger.Logger
}

// NewLinkDrainJob wires the drain job.
func NewLinkDrainJob(queue linkDrainer, logg *logger.Logger) (*LinkDrainJob, error) {
	if queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "link queue required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &LinkDrainJob{queue: queue, logg: logg}, nil
}

// Name identifies the job in logs and metrics.
func (j *LinkDrainJob) Name() string {
	return "link-drain"
}

// Run performs one drain pass over the pending links.
func (j *LinkDrainJob) Run(ctx context.Context) error {
	if pending, err := j.queue.Len(ctx); err == nil && pending > 0 {
		ctx = j.logg.WithField(ctx, "pending", pending)
	}
	j.queue.DrainOnce(ctx)
	return nil
}
