// Package main calibrates cost-function parameters with CMA-ES so that a
// scenario reproduces recorded trajectories.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/crowdsim/config"
	"github.com/pthm-cable/crowdsim/scenario"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// EvalRecord is one parameter of one evaluation in calibrate_log.csv.
type EvalRecord struct {
	Eval    int     `csv:"eval"`
	Fitness float64 `csv:"fitness"`
	ADE     float64 `csv:"ade"`
	Missing int     `csv:"missing"`
	Param   string  `csv:"param"`
	Value   float64 `csv:"value"`
}

// evalLog appends evaluation records, writing the header once.
type evalLog struct {
	f             *os.File
	headerWritten bool
}

func (l *evalLog) write(records []EvalRecord) error {
	if !l.headerWritten {
		l.headerWritten = true
		return gocsv.Marshal(records, l.f)
	}
	return gocsv.MarshalWithoutHeaders(records, l.f)
}

func main() {
	var params paramFlags

	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	scenarioPath := flag.String("scenario", "", "Scenario to calibrate")
	referencePath := flag.String("reference", "", "Recorded trajectories (trajectories.csv format, .zst allowed)")
	flag.Var(&params, "param", "Parameter as policy[.step]/function/attribute=min:max[:default] (repeatable)")
	maxEvals := flag.Int("max-evals", 200, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	missPenalty := flag.Float64("miss-penalty", 5, "Error in meters charged for a reference row without a live agent")
	threads := flag.Int("threads", 1, "Worker threads per simulation")
	outputDir := flag.String("output", "", "Output directory for results")
	verbose := flag.Bool("verbose", false, "Log simulator setup for every evaluation")
	flag.Parse()

	if *outputDir == "" || *scenarioPath == "" || *referencePath == "" {
		log.Fatal("--output, --scenario and --reference are required")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Create output directory
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	// Load base config
	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	baseCfg := config.Cfg()
	baseCfg.SetThreads(*threads)

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		log.Fatalf("failed to load scenario: %v", err)
	}
	ref, err := LoadReference(*referencePath)
	if err != nil {
		log.Fatalf("failed to load reference: %v", err)
	}

	// Create parameter vector
	pv, err := NewParamVector(params, sc)
	if err != nil {
		log.Fatalf("invalid parameters: %v", err)
	}

	// Create fitness evaluator
	evaluator := NewFitnessEvaluator(pv, sc, baseCfg, ref, *missPenalty)

	// Set up CMA-ES
	dim := pv.Dim()
	initX := pv.Normalize(pv.DefaultVector())

	// Create optimization problem
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// Denormalize to get raw parameter values
			return evaluator.Evaluate(pv.Denormalize(x))
		},
	}

	// CMA-ES settings
	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      0, // Sequential evaluation
	}

	// Population size
	popSize := *population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}

	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}

	// Open log file
	logPath := filepath.Join(*outputDir, "calibrate_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()
	evals := &evalLog{f: logFile}

	// Track evaluations and timing
	evalCount := 0
	bestFitness := failedFitness
	var bestParams []float64
	startTime := time.Now()

	// Wrap the function to log evaluations
	originalFunc := problem.Func
	problem.Func = func(x []float64) float64 {
		fitness := originalFunc(x)
		evalCount++

		// Clamped values are the ones the scenario received
		clamped := pv.Clamp(pv.Denormalize(x))
		if fitness < bestFitness {
			bestFitness = fitness
			bestParams = clamped
		}

		ade, missing := evaluator.LastADE(), evaluator.LastMissing()
		records := make([]EvalRecord, len(clamped))
		for i, v := range clamped {
			records[i] = EvalRecord{Eval: evalCount, Fitness: fitness, ADE: ade, Missing: missing, Param: pv.Specs[i].Name, Value: v}
		}
		if err := evals.write(records); err != nil {
			log.Printf("failed to write log: %v", err)
		}

		elapsed := time.Since(startTime)
		avgPerEval := elapsed / time.Duration(evalCount)
		remaining := time.Duration(*maxEvals-evalCount) * avgPerEval

		fmt.Printf("Eval %d/%d: fitness=%.4f ade=%.4fm missing=%d (best=%.4f) | elapsed: %s, ETA: %s\n",
			evalCount, *maxEvals, fitness, ade, missing, bestFitness,
			formatDuration(elapsed), formatDuration(remaining))

		return fitness
	}

	// Run optimization
	fmt.Printf("Starting CMA-ES calibration with %d parameters, population=%d, max_evals=%d\n",
		dim, popSize, *maxEvals)
	fmt.Printf("Reference: %d rows up to step %d\n", len(ref), evaluator.lastStep)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	// Use best params found (may be from any evaluation, not just final)
	if bestParams == nil {
		if result != nil {
			bestParams = pv.Clamp(pv.Denormalize(result.X))
		} else {
			bestParams = pv.DefaultVector()
		}
	}

	totalTime := time.Since(startTime)
	fmt.Printf("\nCalibration complete after %d evaluations in %s\n", evalCount, formatDuration(totalTime))
	fmt.Printf("Best fitness: %.4f\n", bestFitness)

	// Print best parameters
	fmt.Println("\nBest parameters:")
	for i, spec := range pv.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Name, bestParams[i])
	}

	// Save best scenario
	best, err := sc.Clone()
	if err == nil {
		err = pv.Apply(best, bestParams)
	}
	outPath := filepath.Join(*outputDir, "best_scenario.yaml")
	if err == nil {
		err = best.Save(outPath)
	}
	if err != nil {
		log.Printf("failed to write best scenario: %v", err)
	} else {
		fmt.Printf("\nBest scenario saved to: %s\n", outPath)
	}
}
