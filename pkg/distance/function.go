/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: function.go
Description: Function level distance. A multi-source BFS over the reverse call graph, seeded
at every target-owning function, settles each function once at its minimum hop count.
*/

package distance

import (
	"github.com/kleascm/akaylee-directed/pkg/callgraph"
)

// FunctionDistances maps a function to its call graph hop count to the nearest
// target-owning function. Functions missing from the map are unreachable.
type FunctionDistances map[string]int

// Get returns the distance of fn and whether it is reachable.
func (fd FunctionDistances) Get(fn string) (int, bool) {
	d, ok := fd[fn]
	return d, ok
}

// ComputeFunctionDistances runs the reverse BFS from the target functions.
func ComputeFunctionDistances(g *callgraph.Graph, targetFuncs []string) FunctionDistances {
	fd := make(FunctionDistances, len(targetFuncs))
	queue := make([]string, 0, len(targetFuncs))
	for _, fn := range targetFuncs {
		if _, ok := fd[fn]; ok {
			continue
		}
		fd[fn] = 0
		queue = append(queue, fn)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := fd[cur] + 1
		for _, caller := range g.Callers(cur) {
			if _, settled := fd[caller]; settled {
				continue
			}
			fd[caller] = next
			queue = append(queue, caller)
		}
	}
	return fd
}
