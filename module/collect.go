package module

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// CollectConfig bounds a collection run.
type CollectConfig struct {
	// Interval is the sleep between polls of the module's state.
	// Defaults to 200ms.
	Interval time.Duration

	// Timeout is the wall-clock budget for the run.  Defaults to 30s.
	Timeout time.Duration

	// MinRecords, when nonzero, defines completion as "at least this many
	// records accumulated and the current segment's progress at 1.0"
	// instead of the module's finished flag.  The scope module streams
	// records without ever finishing, this is how its runs are bounded.
	MinRecords int

	// OnProgress, when non-nil, is invoked once per poll with the module's
	// progress fraction and accumulated record count.
	OnProgress func(progress float64, records int)
}

func (c CollectConfig) withDefaults() CollectConfig {
	if c.Interval <= 0 {
		c.Interval = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// ErrNoData is returned when the wall-clock budget elapses with nothing
// accumulated.  A timeout with partial data is not an error: the partial
// records are returned and a warning is logged.
var ErrNoData = fmt.Errorf("no records accumulated: %w", ErrTimeout)

// Collect executes the module and runs the bounded retrieval loop:
// intermediate reads each poll, a final drain read after the loop exits,
// then Finish.  Completion, the timeout policy and the partial-data
// semantics are those of CollectConfig.  Subscriptions must already be in
// place; data for paths subscribed after Execute will be absent from the
// result with no error raised.
func Collect(ctx context.Context, m *Module, cfg CollectConfig) (Data, error) {
	cfg = cfg.withDefaults()
	err := m.Execute()
	if err != nil {
		return nil, err
	}

	accumulated := Data{}
	limiter := rate.NewLimiter(rate.Every(cfg.Interval), 1)
	limiter.Allow() // drain the initial token so the first wait paces too
	deadline := time.Now().Add(cfg.Timeout)
	timedOut := false

	for {
		err = limiter.Wait(ctx)
		if err != nil {
			// a deadline nearer than the pacing interval makes the limiter
			// fail with its own error, possibly before the context has
			// expired; callers match on the context's error
			if ctx.Err() != nil {
				err = ctx.Err()
			} else if _, hasDeadline := ctx.Deadline(); hasDeadline {
				err = context.DeadlineExceeded
			}
			m.Finish()
			return accumulated, err
		}

		// drain intermediate segments; completed records are removed from
		// the module on read and must be kept here
		chunk, err := m.Read()
		if err != nil {
			m.Finish()
			return accumulated, err
		}
		accumulated.Merge(chunk)

		progress, err := m.Progress()
		if err != nil {
			m.Finish()
			return accumulated, err
		}
		if cfg.OnProgress != nil {
			cfg.OnProgress(progress, accumulated.Total())
		}

		done, err := m.collectDone(cfg, accumulated, progress)
		if err != nil {
			m.Finish()
			return accumulated, err
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			timedOut = true
			break
		}
	}

	// the module may have produced residual data between the last
	// intermediate read and completion
	chunk, readErr := m.Read()
	if readErr == nil {
		accumulated.Merge(chunk)
	}
	finErr := m.Finish()

	if timedOut {
		if accumulated.Total() == 0 {
			return accumulated, fmt.Errorf("%s module: %w after %v", m.kind, ErrNoData, cfg.Timeout)
		}
		log.Printf("warning: %s module timed out after %v with %d records, proceeding with partial data",
			m.kind, cfg.Timeout, accumulated.Total())
		return accumulated, nil
	}
	if readErr != nil {
		return accumulated, readErr
	}
	return accumulated, finErr
}

// collectDone evaluates the completion criterion.
func (m *Module) collectDone(cfg CollectConfig, accumulated Data, progress float64) (bool, error) {
	if cfg.MinRecords > 0 {
		records, err := m.Records()
		if err != nil {
			return false, err
		}
		// records still inside the module plus those already drained
		return records+accumulated.Total() >= cfg.MinRecords && progress >= 1.0, nil
	}
	return m.Finished()
}

// WaitSave requests that the module save its data to file and blocks until
// the save completes.  Saving runs in the background on the server; reading
// before it completes skips the save entirely, so this must be called
// strictly before Read.
func WaitSave(m *Module, interval, timeout time.Duration) error {
	err := m.Set("save/save", 1)
	if err != nil {
		return err
	}
	return m.WaitParamZero("save/save", interval, timeout)
}
