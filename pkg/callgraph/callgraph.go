/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: callgraph.go
Description: Function level call graph with forward and reverse adjacency. Edges come from
direct call sites; indirect calls only contribute edges for explicitly annotated callees.
Calls to functions absent from the program are omitted. Cycles and self calls are kept.
*/

package callgraph

import (
	"sort"

	"github.com/kleascm/akaylee-directed/pkg/program"
	"golang.org/x/exp/maps"
)

// Options controls call graph construction.
type Options struct {
	// IncludeAnnotated turns annotated indirect call targets into edges.
	IncludeAnnotated bool
}

// Graph is an immutable call graph over program functions.
type Graph struct {
	nodes   []string
	callees map[string][]string
	callers map[string][]string
	edges   int
	known   map[string]bool
	opts    Options
}

// Build constructs the call graph of prog.
func Build(prog *program.Program, opts Options) *Graph {
	g := &Graph{
		callees: make(map[string][]string, len(prog.Functions)),
		callers: make(map[string][]string, len(prog.Functions)),
		known:   make(map[string]bool, len(prog.Functions)),
		opts:    opts,
	}
	for _, fn := range prog.Functions {
		g.known[fn.Name] = true
	}

	fwd := make(map[string]map[string]bool, len(prog.Functions))
	for _, fn := range prog.Functions {
		out := make(map[string]bool)
		for _, bb := range fn.Blocks {
			for _, cs := range bb.Calls {
				for _, callee := range g.SiteCallees(cs) {
					out[callee] = true
				}
			}
		}
		fwd[fn.Name] = out
	}

	g.nodes = maps.Keys(g.known)
	sort.Strings(g.nodes)
	for _, caller := range g.nodes {
		callees := maps.Keys(fwd[caller])
		sort.Strings(callees)
		g.callees[caller] = callees
		g.edges += len(callees)
		for _, callee := range callees {
			g.callers[callee] = append(g.callers[callee], caller)
		}
	}
	// Callers are appended in sorted caller order, so they are already sorted.
	return g
}

// SiteCallees returns the known functions a call site contributes edges to.
func (g *Graph) SiteCallees(cs program.CallSite) []string {
	var res []string
	if !cs.Indirect && cs.Callee != "" && g.known[cs.Callee] {
		res = append(res, cs.Callee)
	}
	if cs.Indirect && g.opts.IncludeAnnotated {
		for _, c := range cs.Annotated {
			if g.known[c] {
				res = append(res, c)
			}
		}
	}
	return res
}

// Functions returns all function names in sorted order.
func (g *Graph) Functions() []string {
	return g.nodes
}

// Callees returns the sorted direct callees of fn.
func (g *Graph) Callees(fn string) []string {
	return g.callees[fn]
}

// Callers returns the sorted direct callers of fn.
func (g *Graph) Callers(fn string) []string {
	return g.callers[fn]
}

// NumEdges returns the number of distinct caller/callee pairs.
func (g *Graph) NumEdges() int {
	return g.edges
}
