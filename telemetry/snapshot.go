package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the dynamic state of a run. Policies, obstacles and agent
// settings come from the scenario, so a snapshot is only meaningful together
// with the scenario that produced it.
type Snapshot struct {
	Version  int    `json:"version"`
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario,omitempty"`

	Step     int     `json:"step"`
	Time     float64 `json:"time"`
	Topology string  `json:"topology"`

	Agents []AgentState `json:"agents"`
}

// AgentState holds one live agent's dynamic state.
type AgentState struct {
	ID int `json:"id"`

	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	VelX float64 `json:"vel_x"`
	VelY float64 `json:"vel_y"`
	DirX float64 `json:"dir_x"`
	DirY float64 `json:"dir_y"`

	GoalX float64 `json:"goal_x"`
	GoalY float64 `json:"goal_y"`
}

// CaptureSnapshot records the live agents of w.
func CaptureSnapshot(w *engine.World, step int, runID string) *Snapshot {
	s := &Snapshot{
		Version:  SnapshotVersion,
		RunID:    runID,
		Step:     step,
		Time:     w.Time(),
		Topology: w.Topology().Name(),
		Agents:   make([]AgentState, 0, w.NumAgents()),
	}
	for _, a := range w.Agents() {
		p, v, d, g := a.Position(), a.Velocity(), a.ViewingDirection(), a.Goal()
		s.Agents = append(s.Agents, AgentState{
			ID: a.ID(),
			X:  p.X, Y: p.Y,
			VelX: v.X, VelY: v.Y,
			DirX: d.X, DirY: d.Y,
			GoalX: g.X, GoalY: g.Y,
		})
	}
	return s
}

// Apply restores the snapshot onto a world freshly built from the same
// scenario: the clock is set, due agents are admitted, agents missing from
// the snapshot are removed and the rest get their recorded state.
func (s *Snapshot) Apply(w *engine.World) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	if name := w.Topology().Name(); name != s.Topology {
		return fmt.Errorf("snapshot topology %q does not match world %q", s.Topology, name)
	}

	w.SetTime(s.Time)
	w.AdmitDue()

	live := make(map[int]bool, len(s.Agents))
	for _, st := range s.Agents {
		live[st.ID] = true
	}
	var gone []int
	for _, a := range w.Agents() {
		if !live[a.ID()] {
			gone = append(gone, a.ID())
		}
	}
	for _, id := range gone {
		w.RemoveAgent(id)
	}

	for _, st := range s.Agents {
		if !w.SetAgentPosition(st.ID, geometry.Vec(st.X, st.Y)) {
			return fmt.Errorf("snapshot agent %d not in scenario", st.ID)
		}
		w.SetAgentVelocity(st.ID, geometry.Vec(st.VelX, st.VelY), geometry.Vec(st.DirX, st.DirY))
		w.SetAgentGoal(st.ID, geometry.Vec(st.GoalX, st.GoalY))
	}
	return nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%06d.json", snapshot.Step)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}
