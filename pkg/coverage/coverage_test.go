/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: coverage_test.go
Description: Tests for coverprofile parsing.
*/

package coverage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kleascm/akaylee-directed/pkg/coverage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profile = `mode: count
example.com/demo/parse.go:10.2,12.3 2 4
example.com/demo/parse.go:13.2,14.10 1 0
example.com/demo/check.go:3.1,5.2 1 1
example.com/demo/parse.go:10.2,12.3 2 1
`

func TestParseProfile(t *testing.T) {
	info, err := coverage.ParseProfile(strings.NewReader(profile))
	require.NoError(t, err)
	assert.Equal(t, "count", info.Mode)
	want := []string{"example.com/demo/check.go:3.1,5.2", "example.com/demo/parse.go:10.2,12.3"}
	if diff := cmp.Diff(want, info.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}

	_, err = coverage.ParseProfile(strings.NewReader("mode: set\nbroken line\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestProfileCollectorRemovesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cov")
	require.NoError(t, os.WriteFile(path, []byte(profile), 0644))

	info, err := coverage.NewProfileCollector().Collect(path)
	require.NoError(t, err)
	assert.Len(t, info.Blocks, 2)
	assert.NoFileExists(t, path)

	_, err = coverage.NewProfileCollector().Collect(path)
	assert.Error(t, err)
}
