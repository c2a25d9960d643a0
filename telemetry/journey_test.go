package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/crowdsim/engine"
)

func TestJourneyTracker(t *testing.T) {
	w := buildWorld(t, engine.Infinite{})
	jt := NewJourneyTracker()

	var done []Journey
	for i := 0; i < 20; i++ {
		w.Step()
		done = append(done, jt.Update(w)...)
	}

	// agent 1 walks towards a goal half a metre away and is removed there
	if len(done) != 1 || done[0].ID != 1 {
		t.Fatalf("finished journeys = %+v", done)
	}
	j := done[0]
	if !j.Finished || j.StartTime != 0 {
		t.Errorf("journey = %+v", j)
	}
	if j.PathLength < 0.1 || j.PathLength > 0.5 {
		t.Errorf("path length = %v", j.PathLength)
	}
	if j.MeanSpeed <= 0 || j.Displacement > j.PathLength+1e-9 {
		t.Errorf("mean speed %v displacement %v", j.MeanSpeed, j.Displacement)
	}

	if jt.Active() != 2 {
		t.Errorf("active = %d, want 2", jt.Active())
	}
	rest := jt.Close()
	if len(rest) != 2 || rest[0].ID != 0 || rest[1].ID != 2 {
		t.Fatalf("open journeys = %+v", rest)
	}
	for _, j := range rest {
		if j.Finished {
			t.Errorf("journey %d marked finished", j.ID)
		}
	}
	// agent 2 was admitted at 0.5 s
	if math.Abs(rest[1].StartTime-0.5) > 1e-9 {
		t.Errorf("late agent start = %v", rest[1].StartTime)
	}
}
