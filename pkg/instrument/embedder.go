/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: embedder.go
Description: Instrumentation embedder. Turns a validated distance map into a per-function
probe plan: each reachable block gets a probe carrying its fixed-point scaled distance.
Blocks without a distance get no probe. Functions are planned in parallel.
*/

package instrument

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"

	"github.com/kleascm/akaylee-directed/pkg/distance"
	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/kleascm/akaylee-directed/pkg/program"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Scale is the fixed-point multiplier applied to every distance.
const Scale = distrt.Scale

// Probe is the counter update inserted at a block's entry.
type Probe struct {
	Block    string        `yaml:"block"`
	Locs     []program.Loc `yaml:"locs,omitempty"`
	Distance float64       `yaml:"distance"`
	Scaled   uint64        `yaml:"scaled"`
}

// FunctionPlan holds the probes of one function in block order.
type FunctionPlan struct {
	Function string  `yaml:"function"`
	File     string  `yaml:"file,omitempty"`
	Probes   []Probe `yaml:"probes"`
}

// Plan is the instrumentation plan for a whole program.
type Plan struct {
	Scale     int            `yaml:"scale"`
	Functions []FunctionPlan `yaml:"functions"`
}

// NumProbes returns the total number of probes.
func (p *Plan) NumProbes() int {
	n := 0
	for _, fp := range p.Functions {
		n += len(fp.Probes)
	}
	return n
}

// Save writes the plan as YAML.
func (p *Plan) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadPlan reads a plan written by Save.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	p := &Plan{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return p, nil
}

// ScaleDistance converts a distance to its fixed-point probe value.
func ScaleDistance(d float64) uint64 {
	return uint64(math.Round(d * Scale))
}

// Embedder builds instrumentation plans.
type Embedder struct {
	logger  *logrus.Logger
	workers int
}

// NewEmbedder creates an embedder. A non-positive worker count uses all CPUs.
func NewEmbedder(logger *logrus.Logger, workers int) *Embedder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Embedder{logger: logger, workers: workers}
}

// Embed validates m against prog and plans a probe for every block in m.
// A block identity unknown to the program makes the map malformed.
func (e *Embedder) Embed(ctx context.Context, prog *program.Program, m *distance.Map) (*Plan, error) {
	if m.Len() == 0 {
		return nil, fmt.Errorf("%w: empty map", distance.ErrMalformedDistanceFile)
	}
	for _, id := range m.Blocks() {
		if _, _, ok := prog.Block(id); !ok {
			return nil, fmt.Errorf("%w: unknown block %q", distance.ErrMalformedDistanceFile, id)
		}
	}

	plans := make([]FunctionPlan, len(prog.Functions))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for i, fn := range prog.Functions {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plans[i] = planFunction(fn, m)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	plan := &Plan{Scale: Scale}
	for _, fp := range plans {
		if len(fp.Probes) > 0 {
			plan.Functions = append(plan.Functions, fp)
		}
	}
	e.logger.WithFields(logrus.Fields{
		"functions": len(plan.Functions),
		"probes":    plan.NumProbes(),
		"scale":     Scale,
	}).Info("Instrumentation plan built")
	return plan, nil
}

func planFunction(fn *program.Function, m *distance.Map) FunctionPlan {
	fp := FunctionPlan{Function: fn.Name, File: fn.File}
	for _, bb := range fn.Blocks {
		d, ok := m.Get(bb.ID)
		if !ok {
			continue
		}
		fp.Probes = append(fp.Probes, Probe{
			Block:    bb.ID,
			Locs:     bb.Locs,
			Distance: d,
			Scaled:   ScaleDistance(d),
		})
	}
	return fp
}
