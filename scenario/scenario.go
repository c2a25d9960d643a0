// Package scenario loads YAML scenario files: the world, its policies,
// agents and obstacles. Files are validated against an embedded JSON Schema
// before they are decoded.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/pthm-cable/crowdsim/scenario.json"

// maxRedirects bounds config_path chains.
const maxRedirects = 8

// ErrInvalidScenario is returned for files that cannot be read, fail schema
// validation or are inconsistent.
var ErrInvalidScenario = errors.New("invalid scenario")

// Vec is a point written as [x, y].
type Vec [2]float64

// Scenario is a decoded scenario file.
type Scenario struct {
	// ConfigPath redirects to another scenario file, relative to this one.
	ConfigPath string     `json:"config_path,omitempty"`
	World      World      `json:"world"`
	Simulation Simulation `json:"simulation"`

	Policies      []Policy   `json:"policies,omitempty"`
	PoliciesFile  string     `json:"policies_file,omitempty"`
	Agents        []Agent    `json:"agents,omitempty"`
	AgentsFile    string     `json:"agents_file,omitempty"`
	Groups        []Group    `json:"groups,omitempty"`
	Obstacles     []Obstacle `json:"obstacles,omitempty"`
	ObstaclesFile string     `json:"obstacles_file,omitempty"`

	// Path is the file the scenario was read from.
	Path string `json:"-"`
}

// World selects the topology. Width and Height apply to Toric worlds, the
// bounds to Planar ones.
type World struct {
	Type   string  `json:"type,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	XMin   float64 `json:"xmin,omitempty"`
	XMax   float64 `json:"xmax,omitempty"`
	YMin   float64 `json:"ymin,omitempty"`
	YMax   float64 `json:"ymax,omitempty"`
}

// Simulation overrides the run config when set.
type Simulation struct {
	DeltaTime float64 `json:"delta_time,omitempty"`
	EndTime   float64 `json:"end_time,omitempty"`
}

// Sampling holds the sampling attributes of a policy or step. Nil fields
// keep their defaults.
type Sampling struct {
	Type          *string  `json:"type,omitempty"`
	Base          *string  `json:"base,omitempty"`
	BaseDirection *string  `json:"base_direction,omitempty"`
	Radius        *string  `json:"radius,omitempty"`
	Angle         *float64 `json:"angle,omitempty"`
	SpeedSamples  *int     `json:"speed_samples,omitempty"`
	AngleSamples  *int     `json:"angle_samples,omitempty"`
	RandomSamples *int     `json:"random_samples,omitempty"`
	IncludeBase   *bool    `json:"include_base,omitempty"`
}

// CostFunction names a registered model with its weight and attributes.
type CostFunction struct {
	Name   string         `json:"name"`
	Coeff  *float64       `json:"coeff,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Step is one step of a stepped policy. Unset fields inherit the policy's.
type Step struct {
	Method            string         `json:"method,omitempty"`
	RelaxationTime    *float64       `json:"relaxation_time,omitempty"`
	ContactForceScale *float64       `json:"contact_force_scale,omitempty"`
	Sampling          *Sampling      `json:"sampling,omitempty"`
	CostFunctions     []CostFunction `json:"cost_functions"`
}

// Policy has either cost functions or steps.
type Policy struct {
	ID                int            `json:"id"`
	Method            string         `json:"method,omitempty"`
	RelaxationTime    *float64       `json:"relaxation_time,omitempty"`
	ContactForceScale *float64       `json:"contact_force_scale,omitempty"`
	Sampling          *Sampling      `json:"sampling,omitempty"`
	CostFunctions     []CostFunction `json:"cost_functions,omitempty"`
	Steps             []Step         `json:"steps,omitempty"`
}

// Color is an agent's display color.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Agent places one agent. Nil settings fall back to the run config.
type Agent struct {
	ID              *int     `json:"id,omitempty"`
	Position        Vec      `json:"position"`
	Goal            *Vec     `json:"goal,omitempty"`
	Policy          int      `json:"policy"`
	Radius          *float64 `json:"radius,omitempty"`
	PreferredSpeed  *float64 `json:"preferred_speed,omitempty"`
	MaxSpeed        *float64 `json:"max_speed,omitempty"`
	MaxAcceleration *float64 `json:"max_acceleration,omitempty"`
	Mass            *float64 `json:"mass,omitempty"`
	RemoveAtGoal    *bool    `json:"remove_at_goal,omitempty"`
	StartTime       float64  `json:"start_time,omitempty"`
	Color           *Color   `json:"color,omitempty"`
}

// Group places Count agents on a grid of lanes. Agent i stands at
// Position + (i / PerLane, i % PerLane) * Separation and walks to the same
// offset from Goal.
type Group struct {
	Count           int      `json:"count"`
	PerLane         int      `json:"per_lane,omitempty"`
	Separation      float64  `json:"separation,omitempty"`
	Position        Vec      `json:"position"`
	Goal            *Vec     `json:"goal,omitempty"`
	Policy          int      `json:"policy"`
	Radius          *float64 `json:"radius,omitempty"`
	PreferredSpeed  *float64 `json:"preferred_speed,omitempty"`
	MaxSpeed        *float64 `json:"max_speed,omitempty"`
	MaxAcceleration *float64 `json:"max_acceleration,omitempty"`
	Mass            *float64 `json:"mass,omitempty"`
	RemoveAtGoal    *bool    `json:"remove_at_goal,omitempty"`
	StartTime       float64  `json:"start_time,omitempty"`
	Color           *Color   `json:"color,omitempty"`
}

// expand returns the group's agents.
func (g Group) expand() []Agent {
	perLane := max(g.PerLane, 1)
	sep := g.Separation
	if sep == 0 {
		sep = 1
	}
	out := make([]Agent, g.Count)
	for i := range out {
		dx, dy := float64(i/perLane)*sep, float64(i%perLane)*sep
		a := Agent{
			Position:        Vec{g.Position[0] + dx, g.Position[1] + dy},
			Policy:          g.Policy,
			Radius:          g.Radius,
			PreferredSpeed:  g.PreferredSpeed,
			MaxSpeed:        g.MaxSpeed,
			MaxAcceleration: g.MaxAcceleration,
			Mass:            g.Mass,
			RemoveAtGoal:    g.RemoveAtGoal,
			StartTime:       g.StartTime,
			Color:           g.Color,
		}
		if g.Goal != nil {
			a.Goal = &Vec{g.Goal[0] + dx, g.Goal[1] + dy}
		}
		out[i] = a
	}
	return out
}

// Obstacle is a closed polygon. Two points make a wall.
type Obstacle struct {
	Points []Vec `json:"points"`
}

type schemas struct {
	root, policies, agents, obstacles *jsonschema.Schema
}

var compileSchemas = sync.OnceValues(func() (*schemas, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("adding scenario schema: %w", err)
	}
	var s schemas
	for _, x := range []struct {
		dst  **jsonschema.Schema
		frag string
	}{
		{&s.root, ""},
		{&s.policies, "#/definitions/policies"},
		{&s.agents, "#/definitions/agents"},
		{&s.obstacles, "#/definitions/obstacles"},
	} {
		sch, err := c.Compile(schemaURL + x.frag)
		if err != nil {
			return nil, fmt.Errorf("compiling scenario schema%s: %w", x.frag, err)
		}
		*x.dst = sch
	}
	return &s, nil
})

// Load reads, validates and decodes the scenario at path, following
// config_path redirects, merging external policy, agent and obstacle files
// and expanding agent groups after the listed agents.
func Load(path string) (*Scenario, error) {
	sch, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	for range maxRedirects {
		sc := &Scenario{}
		if err := decodeFile(path, sch.root, sc); err != nil {
			return nil, err
		}
		if sc.ConfigPath != "" {
			path = filepath.Join(filepath.Dir(path), sc.ConfigPath)
			continue
		}
		sc.Path = path
		if err := sc.resolve(sch); err != nil {
			return nil, err
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		return sc, nil
	}
	return nil, fmt.Errorf("%w: more than %d config_path redirects from %s", ErrInvalidScenario, maxRedirects, path)
}

// Parse validates and decodes a scenario held in memory. External files are
// resolved relative to the working directory.
func Parse(data []byte) (*Scenario, error) {
	sch, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	sc := &Scenario{}
	if err := decode(data, sch.root, sc); err != nil {
		return nil, err
	}
	if sc.ConfigPath != "" {
		return Load(sc.ConfigPath)
	}
	if err := sc.resolve(sch); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// resolve merges external files and expands groups.
func (sc *Scenario) resolve(sch *schemas) error {
	dir := filepath.Dir(sc.Path)
	if sc.PoliciesFile != "" {
		var ps []Policy
		if err := decodeFile(filepath.Join(dir, sc.PoliciesFile), sch.policies, &ps); err != nil {
			return err
		}
		sc.Policies = append(sc.Policies, ps...)
	}
	if sc.AgentsFile != "" {
		var as []Agent
		if err := decodeFile(filepath.Join(dir, sc.AgentsFile), sch.agents, &as); err != nil {
			return err
		}
		sc.Agents = append(sc.Agents, as...)
	}
	for _, g := range sc.Groups {
		sc.Agents = append(sc.Agents, g.expand()...)
	}
	sc.Groups = nil
	if sc.ObstaclesFile != "" {
		var obs []Obstacle
		if err := decodeFile(filepath.Join(dir, sc.ObstaclesFile), sch.obstacles, &obs); err != nil {
			return err
		}
		sc.Obstacles = append(sc.Obstacles, obs...)
	}
	return nil
}

// Validate checks what the schema cannot: at least one policy, unique
// policy ids and agents referring to existing policies.
func (sc *Scenario) Validate() error {
	if len(sc.Policies) == 0 {
		return fmt.Errorf("%w: no policies", ErrInvalidScenario)
	}
	ids := make(map[int]bool, len(sc.Policies))
	for _, p := range sc.Policies {
		if ids[p.ID] {
			return fmt.Errorf("%w: duplicate policy id %d", ErrInvalidScenario, p.ID)
		}
		ids[p.ID] = true
	}
	for i, a := range sc.Agents {
		if !ids[a.Policy] {
			return fmt.Errorf("%w: agent %d uses unknown policy %d", ErrInvalidScenario, i, a.Policy)
		}
	}
	return nil
}

func decodeFile(path string, sch *jsonschema.Schema, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := decode(data, sch, dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// decode converts YAML to JSON, validates it and unmarshals it into dst.
func decode(data []byte, sch *jsonschema.Schema, dst any) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: converting to JSON: %v", ErrInvalidScenario, err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return nil
}
