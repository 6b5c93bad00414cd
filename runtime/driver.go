package runtime

import (
	"time"

	"github.com/pkg/errors"

	"github.com/veilnet/veil/node"
)

// DriverConfig shapes the long-running tick loop around a runtime.
type DriverConfig struct {
	// TickInterval is the fixed sleep between ticks; zero spins without
	// sleeping (simulation mode).
	TickInterval time.Duration
	// ErrorBackoff is the extra sleep applied after a soft tick error.
	ErrorBackoff time.Duration
	// MaxConsecutiveErrors aborts the loop once this many ticks in a row
	// fail; <= 0 never aborts on soft errors.
	MaxConsecutiveErrors int
}

// RunSteps drives the runtime for the given number of ticks starting at
// startStep, or forever when steps is 0. Every event raised is handed to
// onEvent (which may be nil). The driver is the only place wall-clock time
// is observed between ticks.
func RunSteps(r *Runtime, startStep, steps uint64, cfg DriverConfig, onEvent func(node.Event)) (Stats, error) {
	var total Stats
	consecutive := 0
	for step := uint64(0); steps == 0 || step < steps; step++ {
		delta, events, err := r.PumpOnce(startStep + step)
		total.Add(delta)
		if onEvent != nil {
			for _, ev := range events {
				onEvent(ev)
			}
		}
		if err != nil {
			consecutive++
			if cfg.MaxConsecutiveErrors > 0 && consecutive >= cfg.MaxConsecutiveErrors {
				return total, errors.Wrapf(err, "aborting after %d consecutive tick errors", consecutive)
			}
			if cfg.ErrorBackoff > 0 {
				time.Sleep(cfg.ErrorBackoff)
			}
		} else {
			consecutive = 0
		}
		if cfg.TickInterval > 0 {
			time.Sleep(cfg.TickInterval)
		}
	}
	return total, nil
}
