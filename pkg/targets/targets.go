/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: targets.go
Description: Target resolver. Reads operator supplied path:line targets and maps each one to
the basic blocks whose source attributions match. Unmatched targets are reported and skipped;
the resolver only fails when nothing at all resolves.
*/

package targets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/kleascm/akaylee-directed/pkg/program"
	"github.com/sirupsen/logrus"
)

// ErrUnresolvedTarget is returned when no target maps to any block.
var ErrUnresolvedTarget = errors.New("no target resolved to a basic block")

// Target is a raw source location supplied by the operator.
type Target struct {
	File string
	Line int
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.File, t.Line)
}

// Unresolved describes a target line that matched nothing.
type Unresolved struct {
	Raw    string
	Reason string
}

// BlockRef identifies a resolved target block.
type BlockRef struct {
	Function string
	Block    string
}

// Result is the outcome of target resolution.
type Result struct {
	Blocks     []BlockRef // Deduplicated, sorted by block id
	Functions  []string   // Functions owning at least one target block, sorted
	Resolved   int        // Number of targets that matched at least one block
	Unresolved []Unresolved
}

// Contains reports whether the block id is a resolved target.
func (r *Result) Contains(blockID string) bool {
	i := sort.Search(len(r.Blocks), func(i int) bool { return r.Blocks[i].Block >= blockID })
	return i < len(r.Blocks) && r.Blocks[i].Block == blockID
}

// ParseFile reads a target list file.
func ParseFile(filename string) ([]Target, []Unresolved, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads one path:line entry per line. Blank lines and lines starting
// with '#' are ignored; malformed entries are returned as unresolved.
func Parse(r io.Reader) ([]Target, []Unresolved, error) {
	var targets []Target
	var bad []Unresolved
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colon := strings.LastIndexByte(line, ':')
		if colon <= 0 {
			bad = append(bad, Unresolved{Raw: line, Reason: "missing line number"})
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[colon+1:]))
		if err != nil || n <= 0 {
			bad = append(bad, Unresolved{Raw: line, Reason: "invalid line number"})
			continue
		}
		targets = append(targets, Target{File: normalize(line[:colon]), Line: n})
	}
	if err := s.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read targets: %w", err)
	}
	return targets, bad, nil
}

// Resolve maps targets onto program blocks. Two targets landing in the same
// block produce a single entry.
func Resolve(prog *program.Program, targets []Target, logger *logrus.Logger) (*Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	type key struct {
		base string
		line int
	}
	// Index by base name so each target only compares against candidate files.
	index := make(map[key][]BlockRef)
	files := make(map[string]string)
	for _, fn := range prog.Functions {
		for _, bb := range fn.Blocks {
			for _, loc := range bb.Locs {
				file, ok := files[loc.File]
				if !ok {
					file = normalize(loc.File)
					files[loc.File] = file
				}
				k := key{path.Base(file), loc.Line}
				index[k] = append(index[k], BlockRef{Function: fn.Name, Block: bb.ID})
			}
		}
	}

	res := &Result{}
	seen := make(map[string]bool)
	for _, t := range targets {
		matched := false
		for _, ref := range index[key{path.Base(t.File), t.Line}] {
			bb, _, _ := prog.Block(ref.Block)
			if !blockMatches(bb, files, t) {
				continue
			}
			matched = true
			if !seen[ref.Block] {
				seen[ref.Block] = true
				res.Blocks = append(res.Blocks, ref)
			}
		}
		if matched {
			res.Resolved++
			continue
		}
		res.Unresolved = append(res.Unresolved, Unresolved{Raw: t.String(), Reason: "no block attributed to this location"})
	}

	for _, u := range res.Unresolved {
		logger.WithFields(logrus.Fields{
			"target": u.Raw,
			"reason": u.Reason,
		}).Warn("Unresolved target")
	}
	if len(res.Blocks) == 0 {
		return res, fmt.Errorf("%w: %d unresolved", ErrUnresolvedTarget, len(res.Unresolved))
	}

	sort.Slice(res.Blocks, func(i, j int) bool { return res.Blocks[i].Block < res.Blocks[j].Block })
	fnSeen := make(map[string]bool)
	for _, ref := range res.Blocks {
		if !fnSeen[ref.Function] {
			fnSeen[ref.Function] = true
			res.Functions = append(res.Functions, ref.Function)
		}
	}
	sort.Strings(res.Functions)
	return res, nil
}

func blockMatches(bb *program.BasicBlock, files map[string]string, t Target) bool {
	for _, loc := range bb.Locs {
		if loc.Line == t.Line && pathMatches(files[loc.File], t.File) {
			return true
		}
	}
	return false
}

// pathMatches accepts an exact match or a suffix match on a '/' boundary.
func pathMatches(blockFile, targetFile string) bool {
	if blockFile == targetFile {
		return true
	}
	return strings.HasSuffix(blockFile, "/"+strings.TrimPrefix(targetFile, "./"))
}

func normalize(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	return path.Clean(p)
}
