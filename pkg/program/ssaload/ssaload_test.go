/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: ssaload_test.go
Description: Loads a small throwaway module through the SSA frontend.
*/

package ssaload_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kleascm/akaylee-directed/pkg/program/ssaload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const src = `package demo

type Handler interface{ Handle(int) int }

func Parse(n int) int {
	if n > 10 {
		return check(n)
	}
	return 0
}

func check(n int) int {
	return n * 2
}

func Dispatch(h Handler, n int) int {
	return h.Handle(n)
}
`

func TestLoadConvertsFunctionsAndCalls(t *testing.T) {
	if testing.Short() {
		t.Skip("invokes the go command")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/demo\n\ngo 1.21\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.go"), []byte(src), 0644))

	prog, err := ssaload.Load(context.Background(), dir, "./...")
	require.NoError(t, err)

	parse, ok := prog.Function("example.com/demo.Parse")
	require.True(t, ok)
	assert.Greater(t, len(parse.Blocks), 1)
	assert.Equal(t, filepath.Join(dir, "demo.go"), parse.File)

	var callees []string
	for _, bb := range parse.Blocks {
		for _, cs := range bb.Calls {
			callees = append(callees, cs.Callee)
		}
	}
	assert.Contains(t, callees, "example.com/demo.check")

	dispatch, ok := prog.Function("example.com/demo.Dispatch")
	require.True(t, ok)
	var indirect int
	for _, bb := range dispatch.Blocks {
		for _, cs := range bb.Calls {
			if cs.Indirect {
				indirect++
			}
		}
	}
	assert.Equal(t, 1, indirect)
}
