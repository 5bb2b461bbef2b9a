/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: pipeline.go
Description: Build-time distance pipeline. Drives RESOLVE_TARGETS through READY, writes the
call graph intermediate, the distance map and the instrumentation plan, and aborts at the
first fatal error with a stage-tagged diagnostic. No stage runs on partial output.
*/

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/callgraph"
	"github.com/kleascm/akaylee-directed/pkg/distance"
	"github.com/kleascm/akaylee-directed/pkg/instrument"
	"github.com/kleascm/akaylee-directed/pkg/program"
	"github.com/kleascm/akaylee-directed/pkg/program/ssaload"
	"github.com/kleascm/akaylee-directed/pkg/targets"
	"github.com/sirupsen/logrus"
)

// Output file names inside Config.OutDir.
const (
	DefaultDistanceFile  = "distance.cfg.txt"
	CallGraphFile        = "callgraph.distance.txt"
	PlanFile             = "instrument.plan.yaml"
	defaultInstrumentDir = "instrumented"
)

// Config holds every input of a pipeline run.
type Config struct {
	ProgramPath       string   `mapstructure:"program" json:"program"`
	SourceDir         string   `mapstructure:"source_dir" json:"source_dir"`
	Packages          []string `mapstructure:"packages" json:"packages"`
	TargetsPath       string   `mapstructure:"targets" json:"targets"`
	AnnotationsPath   string   `mapstructure:"annotations" json:"annotations"`
	OutDir            string   `mapstructure:"out_dir" json:"out_dir"`
	DistanceFile      string   `mapstructure:"distance_file" json:"distance_file"`
	InstrumentedDir   string   `mapstructure:"instrumented_dir" json:"instrumented_dir"`
	RewriteSources    bool     `mapstructure:"rewrite_sources" json:"rewrite_sources"`
	Workers           int      `mapstructure:"workers" json:"workers"`
	Normalization     string   `mapstructure:"normalization" json:"normalization"`
	VerifyDeterminism bool     `mapstructure:"verify_determinism" json:"verify_determinism"`
}

// Validate checks the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	if c.ProgramPath == "" && c.SourceDir == "" {
		return fmt.Errorf("either a program file or a source directory is required")
	}
	if c.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.DistanceFile == "" {
		c.DistanceFile = filepath.Join(c.OutDir, DefaultDistanceFile)
	}
	if c.RewriteSources && c.SourceDir == "" {
		return fmt.Errorf("source rewriting requires a source directory")
	}
	if c.RewriteSources && c.InstrumentedDir == "" {
		c.InstrumentedDir = filepath.Join(c.OutDir, defaultInstrumentDir)
	}
	opts := distance.Options{Workers: c.Workers, Normalization: distance.Normalization(c.Normalization)}
	if err := opts.Validate(); err != nil {
		return err
	}
	c.Workers = opts.Workers
	c.Normalization = string(opts.Normalization)
	return nil
}

// Result carries everything a successful run produced.
type Result struct {
	Program           *program.Program
	Targets           *targets.Result
	Graph             *callgraph.Graph
	FunctionDistances distance.FunctionDistances
	Map               *distance.Map
	Report            distance.Report
	Plan              *instrument.Plan
	Rewrite           *instrument.RewriteStats
	DistanceFile      string
	PlanFile          string
}

// Pipeline runs the distance build.
type Pipeline struct {
	config *Config
	logger *logrus.Logger
	stage  Stage
}

// New creates a pipeline for a validated config.
func New(config *Config, logger *logrus.Logger) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{config: config, logger: logger}, nil
}

// Stage returns the stage the pipeline reached.
func (p *Pipeline) Stage() Stage {
	return p.stage
}

// fail reports a fatal error once on the diagnostic stream and tags it.
func (p *Pipeline) fail(err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: p.stage, Err: err}
	}
	p.logger.WithFields(logrus.Fields{
		"stage": se.Stage,
		"error": se.Err.Error(),
	}).Error("Pipeline aborted")
	return se
}

func (p *Pipeline) enter(stage Stage) time.Time {
	p.stage = stage
	p.logger.WithField("stage", stage).Debug("Entering stage")
	return time.Now()
}

func (p *Pipeline) leave(start time.Time, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["stage"] = p.stage
	fields["elapsed"] = time.Since(start).String()
	p.logger.WithFields(fields).Info("Stage complete")
}

// Run executes every stage up to READY.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	cfg := p.config

	start := p.enter(StageResolveTargets)
	prog, err := p.loadProgram(ctx)
	if err != nil {
		return nil, p.fail(err)
	}
	res.Program = prog
	if cfg.TargetsPath == "" {
		return nil, p.fail(fmt.Errorf("%w: no targets file", targets.ErrUnresolvedTarget))
	}
	ts, bad, err := targets.ParseFile(cfg.TargetsPath)
	if err != nil {
		return nil, p.fail(err)
	}
	for _, u := range bad {
		p.logger.WithFields(logrus.Fields{"target": u.Raw, "reason": u.Reason}).Warn("Unresolved target")
	}
	tres, err := targets.Resolve(prog, ts, p.logger)
	if tres != nil {
		tres.Unresolved = append(bad, tres.Unresolved...)
	}
	if err != nil {
		return nil, p.fail(err)
	}
	res.Targets = tres
	p.leave(start, logrus.Fields{
		"resolved":   tres.Resolved,
		"unresolved": len(tres.Unresolved),
		"blocks":     len(tres.Blocks),
	})

	start = p.enter(StageBuildGraph)
	res.Graph = callgraph.Build(prog, callgraph.Options{IncludeAnnotated: true})
	p.leave(start, logrus.Fields{
		"functions": len(res.Graph.Functions()),
		"edges":     res.Graph.NumEdges(),
	})

	start = p.enter(StageFunctionDistance)
	res.FunctionDistances = distance.ComputeFunctionDistances(res.Graph, tres.Functions)
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return nil, p.fail(fmt.Errorf("failed to create output directory: %w", err))
	}
	if err := writeFunctionDistances(filepath.Join(cfg.OutDir, CallGraphFile), res.FunctionDistances); err != nil {
		return nil, p.fail(err)
	}
	p.leave(start, logrus.Fields{"reachable_functions": len(res.FunctionDistances)})

	start = p.enter(StageBlockDistance)
	opts := distance.Options{Workers: cfg.Workers, Normalization: distance.Normalization(cfg.Normalization)}
	m, err := distance.ComputeBlockDistances(ctx, prog, res.Graph, tres, res.FunctionDistances, opts)
	if err != nil {
		return nil, p.fail(err)
	}
	if m.Len() == 0 {
		return nil, p.fail(fmt.Errorf("empty distance map"))
	}
	if cfg.VerifyDeterminism {
		again, err := distance.ComputeBlockDistances(ctx, prog, res.Graph, tres, res.FunctionDistances, opts)
		if err != nil {
			return nil, p.fail(err)
		}
		if err := verifyDeterminism(m.Bytes(), again.Bytes()); err != nil {
			return nil, p.fail(err)
		}
	}
	res.Map = m
	p.leave(start, logrus.Fields{"blocks": m.Len()})

	start = p.enter(StageEmitMap)
	if err := os.MkdirAll(filepath.Dir(cfg.DistanceFile), 0755); err != nil {
		return nil, p.fail(err)
	}
	if err := m.WriteFile(cfg.DistanceFile); err != nil {
		return nil, p.fail(err)
	}
	res.DistanceFile = cfg.DistanceFile
	res.Report = distance.NewReport(tres, res.FunctionDistances, m, prog.NumBlocks())
	res.Report.Log(p.logger)
	p.leave(start, logrus.Fields{"distance_file": cfg.DistanceFile})

	if err := p.instrument(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Instrument runs only the INSTRUMENT stage against an existing distance file.
func (p *Pipeline) Instrument(ctx context.Context) (*Result, error) {
	p.enter(StageInstrument)
	prog, err := p.loadProgram(ctx)
	if err != nil {
		return nil, p.fail(err)
	}
	res := &Result{Program: prog, DistanceFile: p.config.DistanceFile}
	if err := p.instrument(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// instrument re-reads the emitted map so the plan is built only from a file
// that passed validation.
func (p *Pipeline) instrument(ctx context.Context, res *Result) error {
	cfg := p.config
	start := p.enter(StageInstrument)

	m, err := distance.ReadFile(res.DistanceFile)
	if err != nil {
		return p.fail(err)
	}
	plan, err := instrument.NewEmbedder(p.logger, cfg.Workers).Embed(ctx, res.Program, m)
	if err != nil {
		return p.fail(err)
	}
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return p.fail(err)
	}
	res.PlanFile = filepath.Join(cfg.OutDir, PlanFile)
	if err := plan.Save(res.PlanFile); err != nil {
		return p.fail(err)
	}
	res.Plan = plan
	if cfg.RewriteSources {
		stats, err := instrument.RewriteGo(cfg.SourceDir, cfg.InstrumentedDir, plan, p.logger)
		if err != nil {
			return p.fail(err)
		}
		res.Rewrite = &stats
	}
	p.leave(start, logrus.Fields{"probes": plan.NumProbes(), "plan": res.PlanFile})

	p.stage = StageReady
	p.logger.WithField("stage", StageReady).Info("Pipeline ready")
	return nil
}

func (p *Pipeline) loadProgram(ctx context.Context) (*program.Program, error) {
	cfg := p.config
	var prog *program.Program
	var err error
	if cfg.ProgramPath != "" {
		prog, err = program.Load(cfg.ProgramPath)
	} else {
		prog, err = ssaload.Load(ctx, cfg.SourceDir, cfg.Packages...)
	}
	if err != nil {
		return nil, err
	}
	if cfg.AnnotationsPath != "" {
		ann, err := program.LoadAnnotations(cfg.AnnotationsPath)
		if err != nil {
			return nil, err
		}
		n := ann.Apply(prog)
		p.logger.WithField("call_sites", n).Info("Applied indirect call annotations")
	}
	p.logger.WithFields(logrus.Fields{
		"functions": len(prog.Functions),
		"blocks":    prog.NumBlocks(),
	}).Info("Program loaded")
	return prog, nil
}

func writeFunctionDistances(path string, fd distance.FunctionDistances) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := distance.WriteFunctionDistances(f, fd); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
