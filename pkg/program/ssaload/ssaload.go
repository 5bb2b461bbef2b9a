/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: ssaload.go
Description: Go frontend for the program representation. Loads packages with go/packages,
builds SSA form and converts every function with a body into program functions and blocks.
Static calls become direct call sites; interface and closure calls are recorded as indirect.
*/

package ssaload

import (
	"context"
	"fmt"
	"go/token"
	"sort"

	"github.com/kleascm/akaylee-directed/pkg/program"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
	packages.NeedImports | packages.NeedDeps | packages.NeedTypes | packages.NeedTypesSizes |
	packages.NeedSyntax | packages.NeedTypesInfo

// Load builds a validated program from the Go packages matched by patterns inside dir.
// Only functions belonging to the matched packages are included.
func Load(ctx context.Context, dir string, patterns ...string) (*program.Program, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	cfg := &packages.Config{
		Context: ctx,
		Dir:     dir,
		Mode:    loadMode,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		return nil, fmt.Errorf("%d errors while loading packages", n)
	}

	ssaProg, ssaPkgs := ssautil.Packages(pkgs, ssa.InstantiateGenerics)
	ssaProg.Build()

	initial := make(map[*ssa.Package]bool, len(ssaPkgs))
	for _, p := range ssaPkgs {
		if p != nil {
			initial[p] = true
		}
	}

	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(ssaProg) {
		if len(fn.Blocks) == 0 || fn.Pkg == nil || !initial[fn.Pkg] {
			continue
		}
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })

	prog := &program.Program{Name: dir}
	seen := make(map[string]bool, len(fns))
	for _, fn := range fns {
		name := fn.String()
		if seen[name] {
			continue
		}
		seen[name] = true
		prog.Functions = append(prog.Functions, convert(ssaProg.Fset, fn))
	}
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

func convert(fset *token.FileSet, fn *ssa.Function) *program.Function {
	out := &program.Function{Name: fn.String()}
	if fn.Pos().IsValid() {
		out.File = fset.Position(fn.Pos()).Filename
	}
	for _, b := range fn.Blocks {
		bb := &program.BasicBlock{}
		lines := make(map[program.Loc]bool)
		for _, instr := range b.Instrs {
			if pos := instr.Pos(); pos.IsValid() {
				p := fset.Position(pos)
				loc := program.Loc{File: p.Filename, Line: p.Line}
				if !lines[loc] {
					lines[loc] = true
					bb.Locs = append(bb.Locs, loc)
				}
			}
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			if callee := call.Common().StaticCallee(); callee != nil {
				bb.Calls = append(bb.Calls, program.CallSite{Callee: callee.String()})
			} else if _, builtin := call.Common().Value.(*ssa.Builtin); !builtin {
				bb.Calls = append(bb.Calls, program.CallSite{Indirect: true})
			}
		}
		for _, s := range b.Succs {
			bb.Succs = append(bb.Succs, s.Index)
		}
		out.Blocks = append(out.Blocks, bb)
	}
	return out
}
