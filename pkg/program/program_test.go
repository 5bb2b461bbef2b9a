/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: program_test.go
Description: Tests for program validation, document round trips and indirect call annotations.
*/

package program_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kleascm/akaylee-directed/pkg/program"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: sample
functions:
  - name: main
    file: main.c
    blocks:
      - locs: [{file: main.c, line: 3}]
        succs: [1]
        calls: [{callee: parse}]
      - locs: [{file: main.c, line: 5}]
        calls: [{indirect: true}]
  - name: parse
    file: parse.c
    blocks:
      - id: parse-entry
        locs: [{file: parse.c, line: 10}]
        succs: [1, 2]
      - locs: [{file: parse.c, line: 11}]
        succs: [2]
      - locs: [{file: parse.c, line: 14}]
`

func TestParseAssignsBlockIDs(t *testing.T) {
	prog, err := program.Parse([]byte(sampleYAML), false)
	require.NoError(t, err)

	assert.Equal(t, 5, prog.NumBlocks())
	bb, fn, ok := prog.Block("main#1")
	require.True(t, ok)
	assert.Equal(t, "main", fn.Name)
	assert.Equal(t, 1, bb.Index())

	_, fn, ok = prog.Block("parse-entry")
	require.True(t, ok)
	assert.Equal(t, "parse", fn.Name)
	assert.Equal(t, []int{0, 1}, fn.Preds(2))
	assert.Nil(t, fn.Preds(0))
}

func TestValidateRejectsBrokenPrograms(t *testing.T) {
	cases := map[string]string{
		"duplicate function": `
functions:
  - name: a
    blocks: [{}]
  - name: a
    blocks: [{}]
`,
		"successor out of range": `
functions:
  - name: a
    blocks: [{succs: [4]}]
`,
		"duplicate block id": `
functions:
  - name: a
    blocks: [{id: x}, {id: x}]
`,
		"unknown field": `
functions:
  - name: a
    blockz: []
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := program.Parse([]byte(doc), false)
			assert.ErrorIs(t, err, program.ErrInvalidProgram)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	prog, err := program.Parse([]byte(sampleYAML), false)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"prog.yaml", "prog.json", "prog.yaml.xz", "prog.json.xz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, program.Save(prog, path))
			loaded, err := program.Load(path)
			require.NoError(t, err)
			if diff := cmp.Diff(prog, loaded, cmp.AllowUnexported(program.Program{}, program.Function{}, program.BasicBlock{})); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveReportsWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	prog, err := program.Parse([]byte(sampleYAML), false)
	require.NoError(t, err)

	// /dev/full accepts the open and fails every write with ENOSPC.
	assert.ErrorContains(t, program.Save(prog, "/dev/full"), "failed to write /dev/full")
}

func TestAnnotationsApplyOnlyToIndirectCalls(t *testing.T) {
	prog, err := program.Parse([]byte(sampleYAML), false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ann.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main:\n  - parse\n  - parse\n"), 0644))
	ann, err := program.LoadAnnotations(path)
	require.NoError(t, err)

	assert.Equal(t, 1, ann.Apply(prog))
	main, ok := prog.Function("main")
	require.True(t, ok)
	assert.Empty(t, main.Blocks[0].Calls[0].Annotated)
	assert.Equal(t, []string{"parse"}, main.Blocks[1].Calls[0].Annotated)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "main", program.DisplayName("main"))
	assert.Equal(t, "foo(int)", program.DisplayName("_Z3fooi"))
}
