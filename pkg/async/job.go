package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultTimeout bounds a run when Job.Timeout is zero
const DefaultTimeout = 5 * time.Minute

// Job is a named unit of background work
type Job struct {
	Name    string
	Timeout time.Duration
	Logger  *observability.Logger
	Fn      func(context.Context) error

	ctx     context.Context
	running atomic.Bool
}

// WithContext sets the context every scheduled run derives from. Cancelling
// it cancels in-flight runs.
func (j *Job) WithContext(ctx context.Context) *Job {
	j.ctx = ctx
	return j
}

// Run implements cron.Job. Errors are logged. A run that starts while the
// previous one is still going is skipped.
func (j *Job) Run() {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if !j.running.CompareAndSwap(false, true) {
		j.logger().WithField("job", j.Name).Warn("previous run still in progress, skipping")
		return
	}
	defer j.running.Store(false)

	if err := j.RunContext(ctx); err != nil {
		j.logger().WithField("job", j.Name).WithError(err).Error("job failed")
	}
}

// RunContext runs the job once. A panic is recovered and returned as an
// error.
func (j *Job) RunContext(parent context.Context) (err error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			j.logger().WithFields(map[string]interface{}{
				"job":   j.Name,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("PANIC recovered")
			err = fmt.Errorf("%s: %w", j.Name, observability.MustRecover(r))
		}
	}()

	start := time.Now()
	if err := j.Fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", j.Name, err)
	}
	j.logger().WithFields(map[string]interface{}{
		"job":         j.Name,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("job completed")
	return nil
}

func (j *Job) logger() *observability.Logger {
	if j.Logger == nil {
		return observability.NewNopLogger()
	}
	return j.Logger
}
