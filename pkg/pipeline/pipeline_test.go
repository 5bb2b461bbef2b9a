/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: pipeline_test.go
Description: End to end pipeline tests: stage progression, emitted files, determinism and
stage-tagged failures.
*/

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kleascm/akaylee-directed/pkg/distance"
	"github.com/kleascm/akaylee-directed/pkg/targets"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const progDoc = `
name: demo
functions:
  - name: main
    blocks:
      - locs: [{file: src/main.c, line: 3}]
        succs: [1, 2]
        calls: [{callee: parse}]
      - locs: [{file: src/main.c, line: 4}]
      - calls: [{indirect: true}]
  - name: parse
    blocks:
      - locs: [{file: src/parse.c, line: 10}]
        succs: [1]
      - locs: [{file: src/parse.c, line: 11}]
        calls: [{callee: vuln}]
  - name: vuln
    blocks:
      - locs: [{file: src/vuln.c, line: 20}]
        succs: [1]
      - locs: [{file: src/vuln.c, line: 21}]
  - name: unrelated
    blocks:
      - locs: [{file: src/other.c, line: 1}]
`

func writeInputs(t *testing.T, targetList string) *Config {
	t.Helper()
	dir := t.TempDir()
	progPath := filepath.Join(dir, "prog.yaml")
	targetsPath := filepath.Join(dir, "targets.txt")
	require.NoError(t, os.WriteFile(progPath, []byte(progDoc), 0644))
	require.NoError(t, os.WriteFile(targetsPath, []byte(targetList), 0644))
	return &Config{
		ProgramPath: progPath,
		TargetsPath: targetsPath,
		OutDir:      filepath.Join(dir, "out"),
		Workers:     2,
	}
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestRunReachesReady(t *testing.T) {
	cfg := writeInputs(t, "# crash site\nvuln.c:21\nmissing.c:9\n")
	p, err := New(cfg, quietLogger())
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageReady, p.Stage())

	d, ok := res.Map.Get("vuln#1")
	require.True(t, ok)
	assert.Equal(t, 0.0, d)
	_, ok = res.Map.Get("unrelated#0")
	assert.False(t, ok)
	// main has diameter 2; main#0 relays df(parse)+1 = 2. The unannotated
	// indirect call in main#2 adds nothing, so it sits one hop past main#0.
	d, ok = res.Map.Get("main#2")
	require.True(t, ok)
	assert.Equal(t, 1.5, d)

	assert.Equal(t, 1, res.Report.ResolvedTargets)
	assert.Equal(t, 1, res.Report.UnresolvedTargets)
	assert.Equal(t, distance.FunctionDistances{"vuln": 0, "parse": 1, "main": 2}, res.FunctionDistances)

	cg, err := os.ReadFile(filepath.Join(cfg.OutDir, CallGraphFile))
	require.NoError(t, err)
	assert.Equal(t, "main,2\nparse,1\nvuln,0\n", string(cg))

	emitted, err := distance.ReadFile(res.DistanceFile)
	require.NoError(t, err)
	assert.Equal(t, res.Map.Bytes(), emitted.Bytes())
	assert.FileExists(t, res.PlanFile)
	assert.Equal(t, res.Map.Len(), res.Plan.NumProbes())
}

func TestRunIsByteIdentical(t *testing.T) {
	cfg := writeInputs(t, "vuln.c:21\nparse.c:10\n")
	cfg.VerifyDeterminism = true

	read := func() []byte {
		p, err := New(cfg, quietLogger())
		require.NoError(t, err)
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		data, err := os.ReadFile(res.DistanceFile)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, read(), read())
}

func TestRunAnnotatedIndirectCall(t *testing.T) {
	cfg := writeInputs(t, "parse.c:10\n")
	cfg.AnnotationsPath = filepath.Join(filepath.Dir(cfg.ProgramPath), "ann.yaml")
	require.NoError(t, os.WriteFile(cfg.AnnotationsPath, []byte("main: [parse]\n"), 0644))

	p, err := New(cfg, quietLogger())
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	d, ok := res.Map.Get("main#2")
	require.True(t, ok)
	assert.Equal(t, 0.5, d, "annotated call relays df(parse)+1")
}

func TestRunNoResolvableTargets(t *testing.T) {
	cfg := writeInputs(t, "missing.c:1\nbroken-line\n")
	logger, hook := test.NewNullLogger()
	p, err := New(cfg, logger)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageResolveTargets, se.Stage)
	assert.ErrorIs(t, err, targets.ErrUnresolvedTarget)
	assert.Contains(t, err.Error(), "RESOLVE_TARGETS: ")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, StageResolveTargets, hook.LastEntry().Data["stage"])
	assert.NoFileExists(t, cfg.DistanceFile)
}

func TestInstrumentRejectsMalformedMap(t *testing.T) {
	cfg := writeInputs(t, "vuln.c:21\n")
	require.NoError(t, os.MkdirAll(cfg.OutDir, 0755))
	cfg.DistanceFile = filepath.Join(cfg.OutDir, "bad.txt")
	require.NoError(t, os.WriteFile(cfg.DistanceFile, []byte("vuln#0,-3\n"), 0644))

	p, err := New(cfg, quietLogger())
	require.NoError(t, err)
	_, err = p.Instrument(context.Background())

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageInstrument, se.Stage)
	assert.ErrorIs(t, err, distance.ErrMalformedDistanceFile)
	assert.NoFileExists(t, filepath.Join(cfg.OutDir, PlanFile))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{OutDir: "out"}).Validate())
	assert.Error(t, (&Config{ProgramPath: "p"}).Validate())
	assert.Error(t, (&Config{ProgramPath: "p", OutDir: "o", Normalization: "log"}).Validate())
	assert.Error(t, (&Config{ProgramPath: "p", OutDir: "o", RewriteSources: true}).Validate())

	cfg := &Config{ProgramPath: "p", OutDir: "o"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("o", DefaultDistanceFile), cfg.DistanceFile)
	assert.Equal(t, "diameter", cfg.Normalization)
}

func TestVerifyDeterminismDiff(t *testing.T) {
	assert.NoError(t, verifyDeterminism([]byte("a,1\n"), []byte("a,1\n")))

	err := verifyDeterminism([]byte("a,1\nb,2\n"), []byte("a,1\nb,3\n"))
	require.ErrorIs(t, err, ErrNondeterministic)
	assert.Contains(t, err.Error(), "-b,2")
	assert.Contains(t, err.Error(), "+b,3")
}
