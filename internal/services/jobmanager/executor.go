package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// execute dispatches a job to its registered handler. A handler panic is
// converted to an internal error so one poisoned job cannot kill a worker.
func (m *Manager) execute(ctx context.Context, job *models.Job) (result map[string]any, err error) {
	m.handlersMu.RLock()
	handler, ok := m.handlers[job.JobType]
	m.handlersMu.RUnlock()

	if !ok {
		return nil, common.NewError(common.KindValidation, "no handler registered for job type "+job.JobType)
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("job_id", job.ID).
				Str("job_type", job.JobType).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Handler panicked")
			err = common.NewError(common.KindTransient, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	return handler(ctx, job)
}
