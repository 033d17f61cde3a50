package route

import (
	"errors"
	"fmt"
	"strings"
)

type TangentMode int

const (
	// TangentAutoSmooth derives each knot tangent from its neighbours.
	TangentAutoSmooth TangentMode = iota
	// TangentLinear leaves zero tangents, the curve is a polyline.
	TangentLinear
)

func (m TangentMode) String() string {
	switch m {
	case TangentAutoSmooth:
		return "auto_smooth"
	case TangentLinear:
		return "linear"
	default:
		return fmt.Sprintf("TangentMode(%d)", int(m))
	}
}

func (m TangentMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *TangentMode) UnmarshalText(b []byte) error {
	mode, err := ParseTangentMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func ParseTangentMode(s string) (TangentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto_smooth", "autosmooth", "":
		return TangentAutoSmooth, nil
	case "linear":
		return TangentLinear, nil
	default:
		return 0, fmt.Errorf("unknown tangent mode %q", s)
	}
}

// Config tunes the batch smoother and the grade checks. Grades are in degrees.
type Config struct {
	// NodesPerSample is how many route nodes are queued into the batch per terrain sample.
	NodesPerSample int
	// MaxGradeDegrees vetoes batches steeper than this.
	MaxGradeDegrees float64
	// MaxGradeChangeDegrees vetoes batches whose grade differs this much from the last accepted one.
	MaxGradeChangeDegrees float64
	// OriginHeightOffset lifts the local frame origin above the first sample.
	OriginHeightOffset float64
	TangentMode        TangentMode

	// Progress, when set, is called as route nodes leave the work queue.
	Progress func(done, total int)
}

func DefaultConfig() Config {
	return Config{
		NodesPerSample:        5,
		MaxGradeDegrees:       3.0,
		MaxGradeChangeDegrees: 1.5,
		OriginHeightOffset:    1.0,
		TangentMode:           TangentAutoSmooth,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.NodesPerSample < 1 {
		errs = append(errs, fmt.Errorf("nodes per sample must be >= 1, got %d", c.NodesPerSample))
	}
	if c.MaxGradeDegrees <= 0 || c.MaxGradeDegrees > 90 {
		errs = append(errs, fmt.Errorf("max grade must be in (0, 90], got %v", c.MaxGradeDegrees))
	}
	if c.MaxGradeChangeDegrees <= 0 {
		errs = append(errs, fmt.Errorf("max grade change must be > 0, got %v", c.MaxGradeChangeDegrees))
	}
	if c.TangentMode != TangentAutoSmooth && c.TangentMode != TangentLinear {
		errs = append(errs, fmt.Errorf("invalid tangent mode %d", c.TangentMode))
	}
	return errors.Join(errs...)
}
