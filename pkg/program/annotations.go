/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: annotations.go
Description: Indirect call annotations. Operators list the functions an indirect call site
in a given caller may reach; only annotated targets ever become call graph edges.
*/

package program

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Annotations maps a caller function to the callees its indirect calls may reach.
type Annotations map[string][]string

// LoadAnnotations reads a YAML annotations document:
//
//	parse_header:
//	  - handle_chunk
//	  - handle_trailer
func LoadAnnotations(path string) (Annotations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations %s: %w", path, err)
	}
	ann := Annotations{}
	if err := yaml.Unmarshal(data, &ann); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", path, err)
	}
	return ann, nil
}

// Apply attaches annotated callees to every indirect call site of the named callers.
// It returns the number of call sites that were annotated.
func (a Annotations) Apply(prog *Program) int {
	n := 0
	for _, fn := range prog.Functions {
		callees, ok := a[fn.Name]
		if !ok || len(callees) == 0 {
			continue
		}
		for _, bb := range fn.Blocks {
			for i := range bb.Calls {
				cs := &bb.Calls[i]
				if !cs.Indirect {
					continue
				}
				cs.Annotated = appendUnique(cs.Annotated, callees...)
				n++
			}
		}
	}
	return n
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
