/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger_test.go
Description: Tests for logger creation, formats, file output, rotation and the custom formatters.
*/

package logging_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConfigValidate(t *testing.T) {
	assert.NoError(t, logging.DefaultLoggerConfig().Validate())

	cfg := logging.DefaultLoggerConfig()
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = logging.DefaultLoggerConfig()
	cfg.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = logging.DefaultLoggerConfig()
	cfg.OutputDir = t.TempDir()
	cfg.MaxFiles = 0
	assert.Error(t, cfg.Validate())
}

func TestJSONFileOutput(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, err := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LogLevelDebug,
		Format:    logging.LogFormatJSON,
		OutputDir: dir,
		MaxFiles:  5,
		MaxSize:   1 << 20,
		Console:   &console,
	})
	require.NoError(t, err)

	logger.LogDistance("tc-1", 1.25, 3, logrus.Fields{"worker": 2})
	path := logger.FilePath()
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, console.String(), string(data), "console and file see the same entries")

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "Distance observed", entry["msg"])
	assert.Equal(t, "tc-1", entry["test_case_id"])
	assert.Equal(t, 1.25, entry["distance"])
	assert.Equal(t, float64(2), entry["worker"])
}

func TestRotationAndPruning(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LogLevelInfo,
		Format:    logging.LogFormatText,
		OutputDir: dir,
		MaxFiles:  2,
		MaxSize:   1,
		Console:   &bytes.Buffer{},
	})
	require.NoError(t, err)

	first := logger.FilePath()
	for i := 0; i < 3; i++ {
		logger.LogStats(int64(i), 0, 0, 1.5, nil)
	}
	assert.NotEqual(t, first, logger.FilePath())
	require.NoError(t, logger.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.NotContains(t, files, first)
}

func TestFuzzerFormatter(t *testing.T) {
	f := &logging.FuzzerFormatter{}
	logger := logrus.New()
	entry := logrus.NewEntry(logger).WithFields(logrus.Fields{
		"stage":    "BLOCK_DISTANCE",
		"distance": 0.5,
	})
	entry.Message = "Stage completed"
	entry.Level = logrus.InfoLevel
	entry.Time = time.Now()

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "INFO [BLOCK_DISTANCE] Stage completed distance=0.5000 stage=BLOCK_DISTANCE\n", string(out))

	entry = logrus.NewEntry(logger).WithField("test_case_id", "0123456789abcdef")
	entry.Message = "New closest input"
	entry.Level = logrus.WarnLevel
	out, err = f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "WARNING [DIST] New closest input test_case_id=01234567...\n", string(out))
}

func TestCustomFormatterSortsFields(t *testing.T) {
	f := &logging.CustomFormatter{}
	entry := logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{"b": 2, "a": time.Second})
	entry.Message = "hello"
	entry.Level = logrus.ErrorLevel
	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "ERROR hello a=1s b=2\n", string(out))
}
