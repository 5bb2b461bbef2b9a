/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: gosrc.go
Description: Go source rewriter. Copies a source tree and, for every probe whose block
starts on a statement line, inserts a distrt.Hit call in front of that statement.
The result builds like the original once the distrt package is resolvable.
*/

package instrument

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ast/astutil"
)

const (
	// RuntimeImportPath is the package instrumented sources import.
	RuntimeImportPath = "github.com/kleascm/akaylee-directed/pkg/distrt"
	runtimeImportName = "__akaylee_distrt"
)

// RewriteStats summarizes a source rewrite.
type RewriteStats struct {
	Files       int // Go files rewritten
	Copied      int // Files copied unchanged
	Inserted    int // Probes inserted
	Unplaced    int // Probes whose lines start no statement
	SharedLines int // Probes merged into another probe on the same line
	Probes      int // Probes with a source location
}

// RewriteGo copies srcDir into outDir and inserts probes from plan into the Go files.
func RewriteGo(srcDir, outDir string, plan *Plan, logger *logrus.Logger) (RewriteStats, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	var stats RewriteStats
	srcAbs, err := filepath.Abs(srcDir)
	if err != nil {
		return stats, err
	}
	outAbs, err := filepath.Abs(outDir)
	if err != nil {
		return stats, err
	}

	byFile := probesByFile(plan)
	for _, ps := range byFile {
		stats.Probes += len(ps)
	}

	err = filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == outAbs || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(outAbs, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		probes := byFile[path]
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") || len(probes) == 0 {
			stats.Copied++
			return copyFile(path, dst)
		}
		fileStats, err := rewriteFile(path, dst, probes)
		if err != nil {
			return fmt.Errorf("failed to instrument %s: %w", rel, err)
		}
		stats.Files++
		stats.Inserted += fileStats.Inserted
		stats.Unplaced += fileStats.Unplaced
		stats.SharedLines += fileStats.SharedLines
		return nil
	})
	if err != nil {
		return stats, err
	}

	logger.WithFields(logrus.Fields{
		"files":        stats.Files,
		"copied":       stats.Copied,
		"inserted":     stats.Inserted,
		"unplaced":     stats.Unplaced,
		"shared_lines": stats.SharedLines,
	}).Info("Go sources instrumented")
	return stats, nil
}

type fileProbe struct {
	lines  []int
	scaled uint64
}

func probesByFile(plan *Plan) map[string][]fileProbe {
	res := make(map[string][]fileProbe)
	for _, fp := range plan.Functions {
		for _, p := range fp.Probes {
			lines := make(map[string][]int)
			var order []string
			for _, loc := range p.Locs {
				file, err := filepath.Abs(loc.File)
				if err != nil {
					continue
				}
				if _, ok := lines[file]; !ok {
					order = append(order, file)
				}
				lines[file] = append(lines[file], loc.Line)
			}
			for _, file := range order {
				res[file] = append(res[file], fileProbe{lines: lines[file], scaled: p.Scaled})
			}
		}
	}
	return res
}

func rewriteFile(src, dst string, probes []fileProbe) (RewriteStats, error) {
	var stats RewriteStats
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, src, nil, parser.ParseComments)
	if err != nil {
		return stats, err
	}

	starts := make(map[int]bool)
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		if insertable(c) {
			starts[fset.Position(c.Node().Pos()).Line] = true
		}
		return true
	}, nil)

	// A block is probed at the first of its lines that starts a statement.
	// Blocks sharing a line keep the smallest distance.
	hits := make(map[int]uint64)
	for _, p := range probes {
		placed := false
		for _, line := range p.lines {
			if !starts[line] {
				continue
			}
			if prev, ok := hits[line]; ok {
				stats.SharedLines++
				hits[line] = min(prev, p.scaled)
			} else {
				hits[line] = p.scaled
			}
			placed = true
			break
		}
		if !placed {
			stats.Unplaced++
		}
	}

	done := make(map[int]bool)
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		if !insertable(c) {
			return true
		}
		line := fset.Position(c.Node().Pos()).Line
		scaled, ok := hits[line]
		if !ok || done[line] {
			return true
		}
		done[line] = true
		c.InsertBefore(hitStmt(scaled))
		stats.Inserted++
		return true
	}, nil)

	if stats.Inserted > 0 {
		astutil.AddNamedImport(fset, file, runtimeImportName, RuntimeImportPath)
	}
	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return stats, err
	}
	return stats, os.WriteFile(dst, buf.Bytes(), 0644)
}

// insertable reports whether the cursor is a statement inside a statement list.
func insertable(c *astutil.Cursor) bool {
	if c.Index() < 0 {
		return false
	}
	switch c.Node().(type) {
	case *ast.CaseClause, *ast.CommClause:
		return false
	case ast.Stmt:
	default:
		return false
	}
	switch c.Parent().(type) {
	case *ast.BlockStmt, *ast.CaseClause, *ast.CommClause:
		return true
	}
	return false
}

func hitStmt(scaled uint64) ast.Stmt {
	return &ast.ExprStmt{X: &ast.CallExpr{
		Fun: &ast.SelectorExpr{X: ast.NewIdent(runtimeImportName), Sel: ast.NewIdent("Hit")},
		Args: []ast.Expr{&ast.BasicLit{
			Kind:  token.INT,
			Value: strconv.FormatUint(scaled, 10),
		}},
	}}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
