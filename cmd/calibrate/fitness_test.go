package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/sim"
	"github.com/pthm-cable/crowdsim/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.SetThreads(1)
	return cfg
}

// recordSwap runs the swap scenario unchanged and returns its trajectories.
func recordSwap(t *testing.T) []telemetry.TrajectoryRow {
	t.Helper()
	dir := t.TempDir()
	s, err := sim.Load(filepath.Join("..", "..", "scenarios", "swap.yaml"), sim.Options{
		Config:    testConfig(t),
		OutputDir: dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	rows, err := LoadReference(filepath.Join(dir, "trajectories.csv"))
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestEvaluateAgainstOwnRecording(t *testing.T) {
	ref := recordSwap(t)
	sc := loadSwap(t)
	pv, err := NewParamVector([]ParamSpec{mustParse(t, "0/0/coeff=0.1:2")}, sc)
	if err != nil {
		t.Fatal(err)
	}
	fe := NewFitnessEvaluator(pv, sc, testConfig(t), ref, 5)

	if f := fe.Evaluate(pv.DefaultVector()); f > 1e-6 {
		t.Errorf("fitness at recorded parameters = %v, want 0", f)
	}
	if fe.LastMissing() != 0 {
		t.Errorf("%d missing rows", fe.LastMissing())
	}

	if f := fe.Evaluate([]float64{0.3}); f < 1e-3 {
		t.Errorf("fitness with a weaker goal force = %v, want > 0", f)
	}
	if fe.LastADE() < 1e-3 {
		t.Errorf("ade = %v", fe.LastADE())
	}

	// evaluations work on copies
	if c := sc.Policies[0].CostFunctions[0].Coeff; c != nil {
		t.Errorf("base scenario modified: coeff %v", *c)
	}
}

func TestEvaluateChargesMissingAgents(t *testing.T) {
	sc := loadSwap(t)
	pv, err := NewParamVector([]ParamSpec{mustParse(t, "0/0/coeff=0.1:2")}, sc)
	if err != nil {
		t.Fatal(err)
	}
	// agent 7 never exists; agent 0 starts at (-5, 0.05)
	ref := []telemetry.TrajectoryRow{
		{Time: 0, ID: 0, X: -5, Y: 0.05},
		{Time: 0, ID: 7, X: 0, Y: 0},
	}
	fe := NewFitnessEvaluator(pv, sc, testConfig(t), ref, 4)
	if f := fe.Evaluate(pv.DefaultVector()); f < 2-1e-9 || f > 2+1e-9 {
		t.Errorf("fitness = %v, want 2", f)
	}
	if fe.LastMissing() != 1 || fe.LastADE() > 1e-12 {
		t.Errorf("missing %d, ade %v", fe.LastMissing(), fe.LastADE())
	}
}

func TestLoadReferenceCompressed(t *testing.T) {
	dir := t.TempDir()
	om, err := telemetry.NewOutputManager(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	s, err := sim.Load(filepath.Join("..", "..", "scenarios", "swap.yaml"), sim.Options{Config: testConfig(t)})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.RunSteps(3)
	if err := om.WriteTrajectories(s.World()); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	rows, err := LoadReference(filepath.Join(dir, "trajectories.csv.zst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != 0 || rows[1].ID != 1 {
		t.Errorf("rows = %+v", rows)
	}

	if _, err := LoadReference(filepath.Join(dir, "absent.csv")); err == nil {
		t.Error("missing file accepted")
	}
	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, []byte("time,id,x,y,dir_x,dir_y\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReference(empty); err == nil {
		t.Error("empty reference accepted")
	}
}
