package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Sampling bounds. Within every tick the first sampleInitial entries per
// message pass through, then every sampleThereafter-th.
const (
	sampleTick       = time.Second
	sampleInitial    = 100
	sampleThereafter = 10
)

// newSampledCore wraps core with level-aware sampling. Warn and below are
// sampled; Error and above always pass through.
func newSampledCore(core zapcore.Core) zapcore.Core {
	errorCore := &levelBandCore{
		Core: core,
		min:  zapcore.ErrorLevel,
		max:  zapcore.FatalLevel,
	}

	sampled := zapcore.NewSamplerWithOptions(
		&levelBandCore{
			Core: core,
			min:  TraceLevel,
			max:  zapcore.WarnLevel,
		},
		sampleTick,
		sampleInitial,
		sampleThereafter,
	)

	return zapcore.NewTee(errorCore, sampled)
}

// levelBandCore forwards only entries within [min, max].
type levelBandCore struct {
	zapcore.Core
	min zapcore.Level
	max zapcore.Level
}

func (c *levelBandCore) Enabled(lvl zapcore.Level) bool {
	if lvl < c.min || lvl > c.max {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelBandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With creates a child core that preserves the level band.
func (c *levelBandCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelBandCore{
		Core: c.Core.With(fields),
		min:  c.min,
		max:  c.max,
	}
}
