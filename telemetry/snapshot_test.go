package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/crowdsim/costfunctions"
	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

// buildWorld makes the same three-agent world every time: a walker, one
// agent removed at its nearby goal and one admitted at 0.5 s.
func buildWorld(t *testing.T, topo engine.Topology) *engine.World {
	t.Helper()
	w := engine.NewWorld(topo, 0.1, 1)
	t.Cleanup(w.Close)
	p := engine.NewPolicy(engine.Gradient)
	p.AddCostFunction(engine.NewForceBased(costfunctions.NewGoalReachingForce()), nil)
	w.AddPolicy(0, p)

	add := func(pos, goal geometry.Vector2D, start float64, removeAtGoal bool) {
		s := engine.DefaultAgentSettings()
		s.RemoveAtGoal = removeAtGoal
		if _, err := w.AddAgent(pos, s, engine.AgentOptions{Goal: &goal, StartTime: start}); err != nil {
			t.Fatal(err)
		}
	}
	add(geometry.Vec(0, 0), geometry.Vec(10, 0), 0, false)
	add(geometry.Vec(0, 5), geometry.Vec(0.5, 5), 0, true)
	add(geometry.Vec(0, -5), geometry.Vec(-10, -5), 0.5, false)
	return w
}

func TestSnapshotSaveLoad(t *testing.T) {
	w := buildWorld(t, engine.Infinite{})
	for i := 0; i < 10; i++ {
		w.Step()
	}
	snapshot := CaptureSnapshot(w, 10, "run-1")
	if len(snapshot.Agents) != 2 {
		t.Fatalf("captured %d agents, want 2", len(snapshot.Agents))
	}

	path, err := SaveSnapshot(snapshot, t.TempDir())
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Snapshot file not created at %s", path)
	}
	if filepath.Base(path) != "snapshot_000010.json" {
		t.Errorf("file name = %s", filepath.Base(path))
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.Step != 10 || loaded.Time != w.Time() {
		t.Errorf("header mismatch: %+v", loaded)
	}

	resumed := buildWorld(t, engine.Infinite{})
	if err := loaded.Apply(resumed); err != nil {
		t.Fatal(err)
	}
	if resumed.NumAgents() != 2 || resumed.NumScheduled() != 0 {
		t.Fatalf("resumed world has %d agents, %d scheduled", resumed.NumAgents(), resumed.NumScheduled())
	}

	for i := 0; i < 5; i++ {
		w.Step()
		resumed.Step()
	}
	for _, a := range w.Agents() {
		b, ok := resumed.Agent(a.ID())
		if !ok {
			t.Fatalf("agent %d missing after resume", a.ID())
		}
		if geometry.Distance(a.Position(), b.Position()) > 1e-9 {
			t.Errorf("agent %d diverged: %v vs %v", a.ID(), a.Position(), b.Position())
		}
	}
}

func TestSnapshotApplyRejectsMismatch(t *testing.T) {
	w := buildWorld(t, engine.Infinite{})
	snapshot := CaptureSnapshot(w, 0, "run-2")

	tests := []struct {
		name   string
		mutate func(s *Snapshot)
		world  *engine.World
	}{
		{"version", func(s *Snapshot) { s.Version = SnapshotVersion + 1 }, buildWorld(t, engine.Infinite{})},
		{"topology", func(*Snapshot) {}, buildWorld(t, engine.Toric{Width: 40, Height: 40})},
		{"unknown agent", func(s *Snapshot) { s.Agents = append(s.Agents, AgentState{ID: 99}) }, buildWorld(t, engine.Infinite{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *snapshot
			s.Agents = append([]AgentState(nil), snapshot.Agents...)
			tt.mutate(&s)
			if err := s.Apply(tt.world); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
