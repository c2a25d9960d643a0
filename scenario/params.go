package scenario

import (
	"math"
	"strconv"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// attrs is the ParameterSource of a cost function entry. Values are decoded
// JSON: numbers, strings, booleans or [x, y] arrays. Numeric strings are
// accepted for numbers.
type attrs map[string]any

var _ engine.ParameterSource = attrs(nil)

func (p attrs) number(name string) (float64, bool) {
	switch v := p[name].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (p attrs) ReadFloat(name string, dst *float64) bool {
	v, ok := p.number(name)
	if ok {
		*dst = v
	}
	return ok
}

func (p attrs) ReadInt(name string, dst *int) bool {
	v, ok := p.number(name)
	if !ok || v != math.Trunc(v) {
		return false
	}
	*dst = int(v)
	return true
}

func (p attrs) ReadBool(name string, dst *bool) bool {
	switch v := p[name].(type) {
	case bool:
		*dst = v
		return true
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false
		}
		*dst = b
		return true
	}
	return false
}

func (p attrs) ReadString(name string, dst *string) bool {
	v, ok := p[name].(string)
	if ok {
		*dst = v
	}
	return ok
}

func (p attrs) ReadVector2D(name string, dst *geometry.Vector2D) bool {
	switch v := p[name].(type) {
	case []any:
		if len(v) != 2 {
			return false
		}
		x, okx := v[0].(float64)
		y, oky := v[1].(float64)
		if !okx || !oky {
			return false
		}
		*dst = geometry.Vec(x, y)
		return true
	case string:
		return engine.Params{name: v}.ReadVector2D(name, dst)
	}
	return false
}

// params converts the sampling block to the attribute names
// SamplingParameters.ParseParameters reads.
func (s *Sampling) params() engine.Params {
	p := engine.Params{}
	if s == nil {
		return p
	}
	if s.Type != nil {
		p["SamplingType"] = *s.Type
	}
	if s.Base != nil {
		p["SamplingBase"] = *s.Base
	}
	if s.BaseDirection != nil {
		p["SamplingBaseDirection"] = *s.BaseDirection
	}
	if s.Radius != nil {
		p["SamplingRadius"] = *s.Radius
	}
	if s.Angle != nil {
		p["SamplingAngle"] = strconv.FormatFloat(*s.Angle, 'g', -1, 64)
	}
	if s.SpeedSamples != nil {
		p["SpeedSamples"] = strconv.Itoa(*s.SpeedSamples)
	}
	if s.AngleSamples != nil {
		p["AngleSamples"] = strconv.Itoa(*s.AngleSamples)
	}
	if s.RandomSamples != nil {
		p["RandomSamples"] = strconv.Itoa(*s.RandomSamples)
	}
	if s.IncludeBase != nil {
		p["IncludeBaseAsSample"] = strconv.FormatBool(*s.IncludeBase)
	}
	return p
}
