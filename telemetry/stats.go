package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartStep int     `csv:"-"`
	WindowEndStep   int     `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Population at window end
	Agents    int `csv:"agents"`
	Scheduled int `csv:"scheduled"`

	// Events during window
	Admitted int `csv:"admitted"`
	Removed  int `csv:"removed"`

	// Speed distribution (sampled at window end)
	SpeedMean float64 `csv:"speed_mean"`
	SpeedStd  float64 `csv:"speed_std"`
	SpeedP10  float64 `csv:"speed_p10"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`

	// Progress towards goals
	GoalDistanceMean float64 `csv:"goal_distance_mean"`
	AtGoal           int     `csv:"at_goal"`

	// Overlapping pairs and the smallest surface gap (negative when overlapping)
	Overlaps     int     `csv:"overlaps"`
	MinClearance float64 `csv:"min_clearance"`
}

// ComputeSpeedStats returns the mean, standard deviation and empirical
// 10/50/90 percentiles of values. An empty slice yields zeros.
func ComputeSpeedStats(values []float64) (mean, std, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0, 0
	}
	mean, std = stat.PopMeanStdDev(values, nil)

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	p10 = stat.Quantile(0.10, stat.Empirical, sorted, nil)
	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	return mean, std, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartStep),
		slog.Int("window_end", s.WindowEndStep),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("agents", s.Agents),
		slog.Int("scheduled", s.Scheduled),
		slog.Int("admitted", s.Admitted),
		slog.Int("removed", s.Removed),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_std", s.SpeedStd),
		slog.Float64("speed_p10", s.SpeedP10),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("goal_distance_mean", s.GoalDistanceMean),
		slog.Int("at_goal", s.AtGoal),
		slog.Int("overlaps", s.Overlaps),
		slog.Float64("min_clearance", s.MinClearance),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndStep,
		"sim_time", s.SimTimeSec,
		"agents", s.Agents,
		"scheduled", s.Scheduled,
		"admitted", s.Admitted,
		"removed", s.Removed,
		"speed_mean", s.SpeedMean,
		"speed_p50", s.SpeedP50,
		"goal_distance_mean", s.GoalDistanceMean,
		"at_goal", s.AtGoal,
		"overlaps", s.Overlaps,
		"min_clearance", s.MinClearance,
	)
}
