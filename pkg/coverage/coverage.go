/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: coverage.go
Description: Coverage collection for Go targets built with -cover. Each run writes a text
coverprofile (GOCOVERDIR data converted, or -test.coverprofile); the collector parses it into
the set of covered source blocks.
*/

package coverage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// CoverageInfo holds coverage data for a single fuzz run
type CoverageInfo struct {
	Blocks []string // Covered "file:start,end" blocks, sorted
	Mode   string   // set, count or atomic
}

// CoverageCollector is the interface for all coverage collectors
type CoverageCollector interface {
	// Collect parses the profile a run wrote.
	Collect(profilePath string) (*CoverageInfo, error)
}

// ProfileCollector reads Go text coverprofiles.
type ProfileCollector struct {
	// Remove deletes the profile once parsed so the next run starts clean.
	Remove bool
}

// NewProfileCollector creates a collector that removes profiles after reading.
func NewProfileCollector() *ProfileCollector {
	return &ProfileCollector{Remove: true}
}

// Collect parses the coverprofile at profilePath.
func (g *ProfileCollector) Collect(profilePath string) (*CoverageInfo, error) {
	f, err := os.Open(profilePath)
	if err != nil {
		return nil, fmt.Errorf("coverage profile not found: %w", err)
	}
	info, err := ParseProfile(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", profilePath, err)
	}
	if g.Remove {
		os.Remove(profilePath)
	}
	return info, nil
}

// ParseProfile parses the Go coverprofile format:
// "mode: set" then "file:startLine.startCol,endLine.endCol numStmts count".
func ParseProfile(r io.Reader) (*CoverageInfo, error) {
	info := &CoverageInfo{}
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if mode, ok := strings.CutPrefix(line, "mode:"); ok {
			info.Mode = strings.TrimSpace(mode)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		if fields[2] == "0" {
			continue
		}
		if _, dup := seen[fields[0]]; !dup {
			seen[fields[0]] = struct{}{}
			info.Blocks = append(info.Blocks, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Strings(info.Blocks)
	return info, nil
}
