package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pthm-cable/crowdsim/scenario"
)

// ParamSpec defines one calibrated cost-function attribute.
type ParamSpec struct {
	Name     string // the flag value before '='
	Policy   int    // policy id
	Step     int    // step index, -1 for the policy's own cost functions
	Function int    // index in the cost function list
	Attr     string // attribute name, "coeff" for the weight
	Min      float64
	Max      float64
	Default  float64
	// HasDefault is false when the default comes from the scenario.
	HasDefault bool
}

// ParseParam parses "policy[.step]/function/attribute=min:max[:default]".
func ParseParam(s string) (ParamSpec, error) {
	target, bounds, ok := strings.Cut(s, "=")
	if !ok {
		return ParamSpec{}, fmt.Errorf("param %q: missing '='", s)
	}
	parts := strings.Split(target, "/")
	if len(parts) != 3 || parts[2] == "" {
		return ParamSpec{}, fmt.Errorf("param %q: want policy[.step]/function/attribute", s)
	}
	p := ParamSpec{Name: target, Step: -1, Attr: parts[2]}

	policy, step, stepped := strings.Cut(parts[0], ".")
	var err error
	if p.Policy, err = strconv.Atoi(policy); err != nil {
		return ParamSpec{}, fmt.Errorf("param %q: policy: %w", s, err)
	}
	if stepped {
		if p.Step, err = strconv.Atoi(step); err != nil || p.Step < 0 {
			return ParamSpec{}, fmt.Errorf("param %q: bad step %q", s, step)
		}
	}
	if p.Function, err = strconv.Atoi(parts[1]); err != nil || p.Function < 0 {
		return ParamSpec{}, fmt.Errorf("param %q: bad function index %q", s, parts[1])
	}

	nums := strings.Split(bounds, ":")
	if len(nums) < 2 || len(nums) > 3 {
		return ParamSpec{}, fmt.Errorf("param %q: want min:max[:default]", s)
	}
	vals := make([]float64, len(nums))
	for i, n := range nums {
		if vals[i], err = strconv.ParseFloat(n, 64); err != nil {
			return ParamSpec{}, fmt.Errorf("param %q: %w", s, err)
		}
	}
	p.Min, p.Max = vals[0], vals[1]
	if p.Min >= p.Max {
		return ParamSpec{}, fmt.Errorf("param %q: min must be below max", s)
	}
	if len(vals) == 3 {
		p.Default, p.HasDefault = vals[2], true
	}
	return p, nil
}

// target returns the cost function p addresses in sc.
func (p ParamSpec) target(sc *scenario.Scenario) (*scenario.CostFunction, error) {
	for i := range sc.Policies {
		pol := &sc.Policies[i]
		if pol.ID != p.Policy {
			continue
		}
		cfs := pol.CostFunctions
		if p.Step >= 0 {
			if p.Step >= len(pol.Steps) {
				return nil, fmt.Errorf("%s: policy %d has %d steps", p.Name, p.Policy, len(pol.Steps))
			}
			cfs = pol.Steps[p.Step].CostFunctions
		}
		if p.Function >= len(cfs) {
			return nil, fmt.Errorf("%s: %d cost functions", p.Name, len(cfs))
		}
		return &cfs[p.Function], nil
	}
	return nil, fmt.Errorf("%s: no policy %d", p.Name, p.Policy)
}

// current reads the attribute's value in sc, if it is set.
func (p ParamSpec) current(cf *scenario.CostFunction) (float64, bool) {
	if p.Attr == "coeff" {
		if cf.Coeff == nil {
			return 1, true
		}
		return *cf.Coeff, true
	}
	switch v := cf.Params[p.Attr].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// ParamVector holds the set of calibrated parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector checks every parameter against sc and fills in missing defaults
// from the scenario, or the middle of the range when the scenario does not
// set the attribute.
func NewParamVector(specs []ParamSpec, sc *scenario.Scenario) (*ParamVector, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no parameters to calibrate")
	}
	pv := &ParamVector{Specs: make([]ParamSpec, len(specs))}
	for i, spec := range specs {
		cf, err := spec.target(sc)
		if err != nil {
			return nil, err
		}
		if !spec.HasDefault {
			if v, ok := spec.current(cf); ok {
				spec.Default = v
			} else {
				spec.Default = (spec.Min + spec.Max) / 2
			}
			spec.HasDefault = true
		}
		pv.Specs[i] = spec
	}
	return pv, nil
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// Apply writes clamped parameter values into sc.
func (pv *ParamVector) Apply(sc *scenario.Scenario, values []float64) error {
	clamped := pv.Clamp(values)
	for i, spec := range pv.Specs {
		cf, err := spec.target(sc)
		if err != nil {
			return err
		}
		v := clamped[i]
		if spec.Attr == "coeff" {
			cf.Coeff = &v
			continue
		}
		if cf.Params == nil {
			cf.Params = make(map[string]any)
		}
		cf.Params[spec.Attr] = v
	}
	return nil
}

// paramFlags collects repeated -param flags.
type paramFlags []ParamSpec

func (f *paramFlags) String() string {
	names := make([]string, len(*f))
	for i, p := range *f {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}

func (f *paramFlags) Set(s string) error {
	p, err := ParseParam(s)
	if err != nil {
		return err
	}
	*f = append(*f, p)
	return nil
}
