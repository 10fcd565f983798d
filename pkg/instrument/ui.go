package instrument

import (
	"context"
	"time"

	"github.com/insightflo/perfmon/pkg/types"
)

// RecordFrame records the build time of one rendered frame
func RecordFrame(ctx context.Context, recorder Recorder, screen string, frameTime time.Duration, dropped int) {
	recorder.RecordMetricData(ctx, types.NewUIPoint(screen, frameTime, types.UIDetail{
		Screen:        screen,
		Frames:        1,
		DroppedFrames: dropped,
	}))
}

// RecordStartup records the duration of a startup phase
func RecordStartup(ctx context.Context, recorder Recorder, phase string, d time.Duration, cold bool) {
	recorder.RecordMetricData(ctx, types.NewStartupPoint(d, types.StartupDetail{
		Phase: phase,
		Cold:  cold,
	}))
}

// StartupTimer measures phases relative to a common start
type StartupTimer struct {
	recorder Recorder
	start    time.Time
	cold     bool
}

// NewStartupTimer starts measuring now
func NewStartupTimer(recorder Recorder, cold bool) *StartupTimer {
	return &StartupTimer{recorder: recorder, start: time.Now(), cold: cold}
}

// Mark records the time elapsed since the timer started as phase
func (t *StartupTimer) Mark(ctx context.Context, phase string) time.Duration {
	d := time.Since(t.start)
	RecordStartup(ctx, t.recorder, phase, d, t.cold)
	return d
}
