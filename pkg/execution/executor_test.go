//go:build linux

/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: executor_test.go
Description: Executor tests. The test binary doubles as the target: with the helper variable
set it reads its input, records probe hits through the runtime package and then exits,
panics, kills itself or hangs depending on the input.
*/

package execution_test

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/kleascm/akaylee-directed/pkg/execution"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "AKAYLEE_EXEC_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runTarget()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runTarget() {
	data, err := os.ReadFile(os.Args[len(os.Args)-1])
	if err != nil {
		os.Exit(3)
	}
	switch strings.TrimSpace(string(data)) {
	case "ok":
		distrt.Hit(200)
	case "panic":
		distrt.Hit(100)
		distrt.Hit(300)
		panic("boom")
	case "kill":
		distrt.Hit(0)
		syscall.Kill(os.Getpid(), syscall.SIGKILL)
	case "hang":
		distrt.Hit(50)
		time.Sleep(time.Minute)
	case "cover":
		os.WriteFile(os.Getenv(execution.EnvCoverProfile), []byte("mode: set\nx.go:1.1,2.2 1 1\n"), 0644)
	}
}

func newExecutor(t *testing.T, mode string) *execution.ProcessExecutor {
	t.Helper()
	logger, _ := test.NewNullLogger()
	x := execution.NewProcessExecutor(logger)
	cfg := &interfaces.FuzzerConfig{
		TargetPath:   os.Args[0],
		TargetArgs:   []string{"-test.run=^$"},
		TargetEnv:    []string{helperEnv + "=1"},
		Workers:      2,
		Timeout:      2 * time.Second,
		CoverageType: mode,
	}
	require.NoError(t, x.Initialize(cfg))
	t.Cleanup(func() { x.Cleanup() })
	return x
}

func run(t *testing.T, x *execution.ProcessExecutor, input string) *interfaces.ExecutionResult {
	t.Helper()
	res, err := x.Execute(&interfaces.TestCase{ID: input, Data: []byte(input)})
	require.NoError(t, err)
	return res
}

func TestExecuteReadsDistance(t *testing.T) {
	x := newExecutor(t, "none")
	res := run(t, x, "ok")
	assert.Equal(t, interfaces.StatusSuccess, res.Status)
	assert.True(t, res.ChannelOK)
	assert.Equal(t, distrt.Record{TotalDistance: 200, TotalCount: 1}, res.Distance)

	// The record is zeroed between runs.
	res = run(t, x, "nothing")
	assert.Equal(t, distrt.Record{}, res.Distance)
	assert.Nil(t, res.DistanceSample())
}

func TestExecuteKeepsPartialTraceOnFault(t *testing.T) {
	x := newExecutor(t, "none")

	res := run(t, x, "panic")
	assert.Equal(t, 2, res.ExitCode)
	assert.Contains(t, string(res.Error), "panic: boom")
	assert.Equal(t, distrt.Record{TotalDistance: 400, TotalCount: 2}, res.Distance)

	res = run(t, x, "kill")
	assert.Equal(t, interfaces.StatusCrash, res.Status)
	assert.Equal(t, int(syscall.SIGKILL), res.Signal)
	assert.Equal(t, uint64(1), res.Distance.TotalCount)
}

func TestExecuteTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the timeout")
	}
	x := newExecutor(t, "none")
	res := run(t, x, "hang")
	assert.Equal(t, interfaces.StatusTimeout, res.Status)
	assert.Equal(t, distrt.Record{TotalDistance: 50, TotalCount: 1}, res.Distance)
}

func TestExecuteCoverProfile(t *testing.T) {
	x := newExecutor(t, "profile")
	res := run(t, x, "cover")
	require.NotEmpty(t, res.CoverProfile)
	assert.FileExists(t, res.CoverProfile)
	assert.Equal(t, "cover.0.out", filepath.Base(res.CoverProfile))

	// The run never reached a probe, so the channel stays untouched.
	assert.True(t, res.ChannelOK)
	assert.True(t, res.NoDistance())
	assert.Nil(t, res.DistanceSample())
}

func TestInitializeRejectsMissingTarget(t *testing.T) {
	logger, _ := test.NewNullLogger()
	x := execution.NewProcessExecutor(logger)
	err := x.Initialize(&interfaces.FuzzerConfig{TargetPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
