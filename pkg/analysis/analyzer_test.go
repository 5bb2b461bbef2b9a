/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: analyzer_test.go
Description: Tests for coverage novelty, crash classification and hang detection.
*/

package analysis_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/analysis"
	"github.com/kleascm/akaylee-directed/pkg/coverage"
	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goPanic = `panic: index out of range [5] with length 3

goroutine 1 [running]:
example.com/demo.parse(...)
	/src/demo/parse.go:12 +0x1d
example.com/demo.Parse({0xc000012345, 0x4})
	/src/demo/parse.go:20 +0x45
main.main()
	/src/demo/cmd/main.go:9 +0x65

goroutine 7 [chan receive]:
other.worker()
	/src/other.go:3 +0x1
`

func newAnalyzer(t *testing.T, collector coverage.CoverageCollector) *analysis.DirectedAnalyzer {
	logger, _ := test.NewNullLogger()
	return analysis.NewDirectedAnalyzer(collector, logger)
}

func TestDistanceFingerprintNovelty(t *testing.T) {
	a := newAnalyzer(t, nil)
	run := func(dist, count uint64) *interfaces.Coverage {
		res := &interfaces.ExecutionResult{ChannelOK: true, Distance: distrt.Record{TotalDistance: dist, TotalCount: count}}
		require.NoError(t, a.Analyze(res))
		return res.Coverage
	}

	first := run(600, 4)
	assert.Equal(t, 3, first.NewBlocks)
	assert.Equal(t, 0, run(600, 4).NewBlocks)
	assert.Equal(t, 0, run(900, 6).NewBlocks, "same mean and bucket")
	assert.Equal(t, 1, run(400, 4).NewBlocks, "closer mean")
	assert.Equal(t, 1, run(1000, 10).NewBlocks, "new hit bucket")

	blind := &interfaces.ExecutionResult{}
	require.NoError(t, a.Analyze(blind))
	assert.Equal(t, 0, blind.Coverage.NewBlocks)

	tc := &interfaces.TestCase{Coverage: first}
	assert.True(t, a.IsInteresting(tc))
	assert.False(t, a.IsInteresting(&interfaces.TestCase{Coverage: blind.Coverage}))
	assert.True(t, a.IsInteresting(&interfaces.TestCase{Metadata: map[string]interface{}{"found_crash": true}}))
}

func TestProfileCoverage(t *testing.T) {
	a := newAnalyzer(t, coverage.NewProfileCollector())
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	res := &interfaces.ExecutionResult{CoverProfile: write("a.cov", "mode: set\na.go:1.1,2.2 1 1\na.go:3.1,4.2 1 0\n")}
	require.NoError(t, a.Analyze(res))
	assert.Equal(t, 1, res.Coverage.NewBlocks)
	assert.Equal(t, 1, res.Coverage.BlockCount)

	res = &interfaces.ExecutionResult{CoverProfile: write("b.cov", "mode: set\na.go:1.1,2.2 1 1\na.go:3.1,4.2 1 1\n")}
	require.NoError(t, a.Analyze(res))
	assert.Equal(t, 1, res.Coverage.NewBlocks)

	// Missing profile falls back to the distance fingerprint.
	res = &interfaces.ExecutionResult{CoverProfile: filepath.Join(dir, "missing.cov"), ChannelOK: true,
		Distance: distrt.Record{TotalDistance: 100, TotalCount: 1}}
	require.NoError(t, a.Analyze(res))
	assert.Equal(t, 3, res.Coverage.NewBlocks)
	assert.Equal(t, 5, a.CoverageSize())
}

func TestDetectCrash(t *testing.T) {
	a := newAnalyzer(t, nil)
	matcher, err := analysis.NewRegexCrashMatcher([]string{`index out of range`})
	require.NoError(t, err)
	a.SetCrashMatcher(matcher)

	panicRes := &interfaces.ExecutionResult{ExitCode: 2, Error: []byte(goPanic)}
	crash, err := a.DetectCrash(panicRes)
	require.NoError(t, err)
	require.NotNil(t, crash)
	assert.Equal(t, "GO_PANIC", crash.Type)
	assert.Equal(t, []string{"example.com/demo.parse", "example.com/demo.Parse", "main.main"}, crash.StackTrace)
	assert.True(t, crash.Interesting)

	// Same frames, different message: same bucket.
	again, _ := a.DetectCrash(&interfaces.ExecutionResult{ExitCode: 2, Error: []byte("panic: other\n" + goPanic[len("panic: index out of range [5] with length 3\n"):])})
	assert.Equal(t, crash.Hash, again.Hash)

	segv, _ := a.DetectCrash(&interfaces.ExecutionResult{Signal: 11})
	require.NotNil(t, segv)
	assert.Equal(t, "SIGSEGV", segv.Type)
	assert.NotEqual(t, crash.Hash, segv.Hash)
	assert.False(t, segv.Interesting)

	none, _ := a.DetectCrash(&interfaces.ExecutionResult{ExitCode: 1})
	assert.Nil(t, none)
	timeout, _ := a.DetectCrash(&interfaces.ExecutionResult{Status: interfaces.StatusTimeout, Signal: 9})
	assert.Nil(t, timeout)

	_, err = analysis.NewRegexCrashMatcher([]string{"("})
	assert.Error(t, err)
}

func TestDetectHang(t *testing.T) {
	a := newAnalyzer(t, nil)
	hang, _ := a.DetectHang(&interfaces.ExecutionResult{Status: interfaces.StatusTimeout, Duration: time.Second})
	require.NotNil(t, hang)
	assert.Equal(t, time.Second, hang.Duration)

	slow := &interfaces.ExecutionResult{Duration: 3 * time.Second}
	none, _ := a.DetectHang(slow)
	assert.Nil(t, none)
	a.SetHangThreshold(2 * time.Second)
	hang, _ = a.DetectHang(slow)
	assert.NotNil(t, hang)
}
