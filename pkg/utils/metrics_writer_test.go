/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics_writer_test.go
Description: Tests for writing and reading back metrics results.
*/

package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Executions int64   `json:"executions"`
	Best       float64 `json:"best_distance"`
}

func TestWriteAndReadLatest(t *testing.T) {
	dir := t.TempDir()

	var got summary
	_, err := utils.LatestMetricsResult(dir, "fuzz", &got)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	first, err := utils.WriteMetricsResult(dir, "fuzz", "1.0.0", summary{Executions: 10, Best: 2})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fuzz"), filepath.Dir(first))
	assert.True(t, strings.HasSuffix(first, "_fuzz_v1.0.0.json"))

	time.Sleep(5 * time.Millisecond)
	second, err := utils.WriteMetricsResult(dir, "fuzz", "1.0.0", summary{Executions: 20, Best: 0.5})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	path, err := utils.LatestMetricsResult(dir, "fuzz", &got)
	require.NoError(t, err)
	assert.Equal(t, second, path)
	assert.Equal(t, summary{Executions: 20, Best: 0.5}, got)

	entries, err := os.ReadDir(filepath.Join(dir, "fuzz"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}
