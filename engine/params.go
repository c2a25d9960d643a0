package engine

import (
	"strconv"
	"strings"

	"github.com/pthm-cable/crowdsim/geometry"
)

// ParameterSource reads named attributes for cost functions and policies.
// Each method reports whether the attribute was present and parseable; on
// false the destination is left untouched so built-in defaults survive.
type ParameterSource interface {
	ReadInt(name string, dst *int) bool
	ReadFloat(name string, dst *float64) bool
	ReadBool(name string, dst *bool) bool
	ReadString(name string, dst *string) bool
	ReadVector2D(name string, dst *geometry.Vector2D) bool
}

// Params is a string-keyed ParameterSource, used by tests, the CLI and the
// calibration tool. Vectors are written as "x,y".
type Params map[string]string

func (p Params) ReadInt(name string, dst *int) bool {
	s, ok := p[name]
	if !ok {
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	*dst = v
	return true
}

func (p Params) ReadFloat(name string, dst *float64) bool {
	s, ok := p[name]
	if !ok {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return false
	}
	*dst = v
	return true
}

func (p Params) ReadBool(name string, dst *bool) bool {
	s, ok := p[name]
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	*dst = v
	return true
}

func (p Params) ReadString(name string, dst *string) bool {
	s, ok := p[name]
	if !ok {
		return false
	}
	*dst = s
	return true
}

func (p Params) ReadVector2D(name string, dst *geometry.Vector2D) bool {
	s, ok := p[name]
	if !ok {
		return false
	}
	xs, ys, found := strings.Cut(s, ",")
	if !found {
		return false
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return false
	}
	*dst = geometry.Vec(x, y)
	return true
}
