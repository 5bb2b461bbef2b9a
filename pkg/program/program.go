/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: program.go
Description: Program representation consumed by the distance pipeline. A program is a set
of functions, each owning an ordered list of basic blocks with source attributions,
intra-procedural successor edges and outgoing call sites. Frontends (YAML/JSON documents,
the Go SSA loader) produce this shape; every later stage only reads it.
*/

package program

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// ErrInvalidProgram is returned when a program representation fails validation.
var ErrInvalidProgram = errors.New("invalid program representation")

// Loc is a source attribution of a basic block.
type Loc struct {
	File string `yaml:"file" json:"file"`
	Line int    `yaml:"line" json:"line"`
}

func (l Loc) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// CallSite is a call instruction inside a basic block.
// Callee is empty for calls that could not be resolved statically.
type CallSite struct {
	Callee    string   `yaml:"callee,omitempty" json:"callee,omitempty"`
	Indirect  bool     `yaml:"indirect,omitempty" json:"indirect,omitempty"`
	Annotated []string `yaml:"annotated,omitempty" json:"annotated,omitempty"` // Explicit targets of an indirect call
}

// BasicBlock is a node of a function's control-flow graph.
type BasicBlock struct {
	ID    string     `yaml:"id,omitempty" json:"id,omitempty"`
	Locs  []Loc      `yaml:"locs,omitempty" json:"locs,omitempty"`
	Succs []int      `yaml:"succs,omitempty" json:"succs,omitempty"` // Indices into Function.Blocks
	Calls []CallSite `yaml:"calls,omitempty" json:"calls,omitempty"`

	index int
}

// Index returns the position of the block inside its function.
func (b *BasicBlock) Index() int {
	return b.index
}

// Function owns an ordered set of basic blocks. Blocks[0] is the entry block.
type Function struct {
	Name   string        `yaml:"name" json:"name"`
	File   string        `yaml:"file,omitempty" json:"file,omitempty"`
	Blocks []*BasicBlock `yaml:"blocks" json:"blocks"`

	preds [][]int
}

// Preds returns the predecessor indices of the block at index i.
func (f *Function) Preds(i int) []int {
	if i < 0 || i >= len(f.preds) {
		return nil
	}
	return f.preds[i]
}

// DisplayName returns a demangled form of the function name for diagnostics.
// The mangled name stays the function identity everywhere else.
func (f *Function) DisplayName() string {
	return DisplayName(f.Name)
}

// DisplayName demangles C++/Rust symbol names and returns other names unchanged.
func DisplayName(name string) string {
	if d, err := demangle.ToString(name); err == nil {
		return d
	}
	return name
}

// Program is the whole-program representation.
type Program struct {
	Name      string      `yaml:"name,omitempty" json:"name,omitempty"`
	Functions []*Function `yaml:"functions" json:"functions"`

	byName  map[string]*Function
	byBlock map[string]*BasicBlock
	owner   map[string]*Function
}

// Validate checks structural invariants and builds the lookup indices.
// Blocks without an explicit ID receive "<function>#<index>".
func (p *Program) Validate() error {
	p.byName = make(map[string]*Function, len(p.Functions))
	p.byBlock = make(map[string]*BasicBlock)
	p.owner = make(map[string]*Function)

	for _, fn := range p.Functions {
		if fn == nil || fn.Name == "" {
			return fmt.Errorf("%w: function without a name", ErrInvalidProgram)
		}
		if _, dup := p.byName[fn.Name]; dup {
			return fmt.Errorf("%w: duplicate function %q", ErrInvalidProgram, fn.Name)
		}
		p.byName[fn.Name] = fn

		fn.preds = make([][]int, len(fn.Blocks))
		for i, bb := range fn.Blocks {
			if bb == nil {
				return fmt.Errorf("%w: nil block %d in %s", ErrInvalidProgram, i, fn.Name)
			}
			bb.index = i
			if bb.ID == "" {
				bb.ID = fmt.Sprintf("%s#%d", fn.Name, i)
			}
			if strings.ContainsAny(bb.ID, "\r\n") {
				return fmt.Errorf("%w: block id %q contains a line break", ErrInvalidProgram, bb.ID)
			}
			if _, dup := p.byBlock[bb.ID]; dup {
				return fmt.Errorf("%w: duplicate block id %q", ErrInvalidProgram, bb.ID)
			}
			p.byBlock[bb.ID] = bb
			p.owner[bb.ID] = fn
		}
		for i, bb := range fn.Blocks {
			for _, s := range bb.Succs {
				if s < 0 || s >= len(fn.Blocks) {
					return fmt.Errorf("%w: block %s has successor %d out of range", ErrInvalidProgram, bb.ID, s)
				}
				fn.preds[s] = append(fn.preds[s], i)
			}
		}
	}
	return nil
}

// Function returns the function with the given name.
func (p *Program) Function(name string) (*Function, bool) {
	fn, ok := p.byName[name]
	return fn, ok
}

// Block returns the block with the given id together with its owning function.
func (p *Program) Block(id string) (*BasicBlock, *Function, bool) {
	bb, ok := p.byBlock[id]
	if !ok {
		return nil, nil, false
	}
	return bb, p.owner[id], true
}

// NumBlocks returns the total number of blocks in the program.
func (p *Program) NumBlocks() int {
	return len(p.byBlock)
}
