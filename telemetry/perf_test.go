package telemetry

import (
	"testing"
	"time"

	"github.com/pthm-cable/crowdsim/engine"
	"github.com/pthm-cable/crowdsim/geometry"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseSpatialIndex)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseAcceleration)
		time.Sleep(200 * time.Microsecond)
		pc.EndStep()
	}

	stats := pc.Stats()

	if stats.AvgStepDuration <= 0 {
		t.Error("expected positive average step duration")
	}
	if _, ok := stats.PhaseAvg[PhaseSpatialIndex]; !ok {
		t.Error("expected spatial_index phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseAcceleration]; !ok {
		t.Error("expected acceleration phase to be tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartStep()
		pc.StartPhase(PhaseSpatialIndex)
		pc.EndStep()
	}

	stats := pc.Stats()
	if stats.AvgStepDuration <= 0 {
		t.Error("expected positive average step duration after window filled")
	}
	if stats.StepsPerSecond <= 0 {
		t.Error("expected positive steps per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartStep()
		pc.StartPhase("fast")
		time.Sleep(time.Millisecond)
		pc.StartPhase("slow")
		time.Sleep(10 * time.Millisecond)
		pc.EndStep()
	}

	stats := pc.Stats()
	fastPct := stats.PhasePct["fast"]
	slowPct := stats.PhasePct["slow"]
	if slowPct <= fastPct {
		t.Errorf("expected slow phase (%v%%) > fast phase (%v%%)", slowPct, fastPct)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()
	if stats.AvgStepDuration != 0 {
		t.Error("expected zero avg step duration for empty collector")
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("expected non-nil phase maps")
	}
}

func TestPerfCollector_ObservesWorld(t *testing.T) {
	w := engine.NewWorld(engine.Infinite{}, 0.1, 1)
	defer w.Close()
	w.AddPolicy(0, engine.NewPolicy(engine.Gradient))
	goal := geometry.Vec(5, 0)
	if _, err := w.AddAgent(geometry.Vec(0, 0), engine.DefaultAgentSettings(), engine.AgentOptions{Goal: &goal}); err != nil {
		t.Fatal(err)
	}

	pc := NewPerfCollector(10)
	w.SetObserver(pc)
	for i := 0; i < 3; i++ {
		pc.StartStep()
		w.Step()
		pc.EndStep()
	}

	stats := pc.Stats()
	for _, phase := range phases[:len(phases)-1] {
		if _, ok := stats.PhaseAvg[phase]; !ok {
			t.Errorf("phase %q not observed", phase)
		}
	}
	row := stats.ToCSV(3)
	if row.WindowEnd != 3 {
		t.Errorf("csv window end = %d", row.WindowEnd)
	}
}
