/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: block.go
Description: Block level distance. Combines an intra-procedural BFS over the undirected CFG
of target-owning functions with call relay (callee distance plus one hop), takes the minimum
and optionally normalizes by the function's CFG diameter. In functions without a target the
relay values of calling blocks spread over the CFG, so a block that reaches a calling block
gets that block's relay plus the hops to it. Functions are partitioned across
workers; each worker owns its partition and the results are merged afterwards.
*/

package distance

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/kleascm/akaylee-directed/pkg/callgraph"
	"github.com/kleascm/akaylee-directed/pkg/program"
	"github.com/kleascm/akaylee-directed/pkg/targets"
	"golang.org/x/sync/errgroup"
)

// Normalization selects how raw block distances are scaled before storage.
type Normalization string

const (
	// NormalizeDiameter divides by max(1, diameter) of the owning function's CFG.
	NormalizeDiameter Normalization = "diameter"
	// NormalizeNone stores raw hop counts.
	NormalizeNone Normalization = "none"
)

// exactDiameterLimit bounds the all-pairs BFS; larger CFGs use a double sweep.
const exactDiameterLimit = 512

// unreachable marks a block without a finite distance.
const unreachable = -1

// Options configures block distance computation.
type Options struct {
	Workers       int
	Normalization Normalization
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	switch o.Normalization {
	case "":
		o.Normalization = NormalizeDiameter
	case NormalizeDiameter, NormalizeNone:
	default:
		return fmt.Errorf("unknown normalization %q", o.Normalization)
	}
	return nil
}

type entry struct {
	block string
	dist  float64
}

// ComputeBlockDistances builds the distance map for every reachable block of prog.
func ComputeBlockDistances(ctx context.Context, prog *program.Program, g *callgraph.Graph,
	res *targets.Result, fd FunctionDistances, opts Options) (*Map, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	targetIdx := make(map[string][]int)
	for _, ref := range res.Blocks {
		bb, _, ok := prog.Block(ref.Block)
		if !ok {
			return nil, fmt.Errorf("target block %s not in program", ref.Block)
		}
		targetIdx[ref.Function] = append(targetIdx[ref.Function], bb.Index())
	}

	workers := opts.Workers
	if workers > len(prog.Functions) {
		workers = max(1, len(prog.Functions))
	}
	parts := make([][]entry, workers)
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for i := w; i < len(prog.Functions); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				fn := prog.Functions[i]
				parts[w] = append(parts[w], functionBlocks(fn, g, fd, targetIdx[fn.Name], opts.Normalization)...)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	b := NewBuilder()
	for _, part := range parts {
		for _, e := range part {
			if err := b.Add(e.block, e.dist); err != nil {
				return nil, err
			}
		}
	}
	return b.Build(), nil
}

// functionBlocks computes the finite distances of one function's blocks.
func functionBlocks(fn *program.Function, g *callgraph.Graph, fd FunctionDistances,
	targetIdx []int, norm Normalization) []entry {
	n := len(fn.Blocks)
	if n == 0 {
		return nil
	}
	var raw []int
	if len(targetIdx) > 0 {
		raw = bfs(fn, targetIdx)
		for i, bb := range fn.Blocks {
			if r := relay(bb, g, fd); r != unreachable && (raw[i] == unreachable || r < raw[i]) {
				raw[i] = r
			}
		}
	} else {
		seeds := make([]int, n)
		for i, bb := range fn.Blocks {
			seeds[i] = relay(bb, g, fd)
		}
		raw = spread(fn, seeds)
	}

	scale := 1.0
	if norm == NormalizeDiameter {
		for _, d := range raw {
			if d > 0 {
				scale = float64(max(1, Diameter(fn)))
				break
			}
		}
	}
	var out []entry
	for i, d := range raw {
		if d == unreachable {
			continue
		}
		out = append(out, entry{block: fn.Blocks[i].ID, dist: float64(d) / scale})
	}
	return out
}

// relay returns the minimum callee distance plus one over the block's call sites.
func relay(bb *program.BasicBlock, g *callgraph.Graph, fd FunctionDistances) int {
	best := unreachable
	for _, cs := range bb.Calls {
		for _, callee := range g.SiteCallees(cs) {
			if d, ok := fd[callee]; ok && (best == unreachable || d+1 < best) {
				best = d + 1
			}
		}
	}
	return best
}

// spread propagates seeded distances over the undirected CFG. seeds[i] is the
// starting distance of block i or unreachable; every block ends with the
// minimum over seeds of seed value plus hops. Seeds are released in distance
// order so the queue stays sorted and each block is settled once.
func spread(fn *program.Function, seeds []int) []int {
	dist := make([]int, len(fn.Blocks))
	var order []int
	for i, s := range seeds {
		dist[i] = unreachable
		if s != unreachable {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return seeds[order[a]] < seeds[order[b]] })

	queue := make([]int, 0, len(fn.Blocks))
	for next := 0; next < len(order) || len(queue) > 0; {
		var cur int
		if len(queue) == 0 || (next < len(order) && seeds[order[next]] <= dist[queue[0]]) {
			cur = order[next]
			next++
			if dist[cur] != unreachable {
				continue
			}
			dist[cur] = seeds[cur]
		} else {
			cur = queue[0]
			queue = queue[1:]
		}
		visit := func(nb int) {
			if dist[nb] == unreachable {
				dist[nb] = dist[cur] + 1
				queue = append(queue, nb)
			}
		}
		for _, s := range fn.Blocks[cur].Succs {
			visit(s)
		}
		for _, p := range fn.Preds(cur) {
			visit(p)
		}
	}
	return dist
}

// bfs is a multi-source BFS over the CFG with edges traversed in both directions.
func bfs(fn *program.Function, sources []int) []int {
	dist := make([]int, len(fn.Blocks))
	for i := range dist {
		dist[i] = unreachable
	}
	queue := make([]int, 0, len(fn.Blocks))
	for _, s := range sources {
		if dist[s] == unreachable {
			dist[s] = 0
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visit := func(nb int) {
			if dist[nb] == unreachable {
				dist[nb] = dist[cur] + 1
				queue = append(queue, nb)
			}
		}
		for _, s := range fn.Blocks[cur].Succs {
			visit(s)
		}
		for _, p := range fn.Preds(cur) {
			visit(p)
		}
	}
	return dist
}

// Diameter returns the largest finite shortest path length in the undirected
// CFG of fn. CFGs above exactDiameterLimit blocks are approximated per
// connected component with a double sweep, which yields a lower bound.
func Diameter(fn *program.Function) int {
	n := len(fn.Blocks)
	best := 0
	if n <= exactDiameterLimit {
		for s := 0; s < n; s++ {
			_, ecc := farthest(bfs(fn, []int{s}))
			best = max(best, ecc)
		}
		return best
	}
	seen := make([]bool, n)
	for s := 0; s < n; s++ {
		if seen[s] {
			continue
		}
		first := bfs(fn, []int{s})
		for i, d := range first {
			if d != unreachable {
				seen[i] = true
			}
		}
		u, _ := farthest(first)
		_, ecc := farthest(bfs(fn, []int{u}))
		best = max(best, ecc)
	}
	return best
}

func farthest(dist []int) (int, int) {
	at, best := 0, math.MinInt
	for i, d := range dist {
		if d > best {
			at, best = i, d
		}
	}
	return at, max(best, 0)
}
