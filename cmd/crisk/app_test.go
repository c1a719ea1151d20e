package main

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/crisk-verify/internal/errors"
	"github.com/rohankatakam/crisk-verify/internal/models"
)

func withOutputFormat(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

func TestLoadManifest(t *testing.T) {
	requests, err := loadManifest(filepath.Join("testdata", "manifest.yaml"))
	require.NoError(t, err)
	require.Len(t, requests, 2)

	first := requests[0]
	assert.Equal(t, "session.ts", first.FilePath)
	assert.Contains(t, first.Content, "loadSession")
	assert.Equal(t, []models.Transformation{{Type: "type-annotations", Count: 3}}, first.Transformations)
	assert.Nil(t, first.BusinessContext)

	second := requests[1]
	assert.Equal(t, "src/util/format.ts", second.FilePath)
	assert.NotNil(t, second.Transformations)
	assert.Empty(t, second.Transformations)
	require.NotNil(t, second.BusinessContext)
	assert.Equal(t, "formatting", second.BusinessContext.Domain)
	assert.Equal(t, models.Environment("DEVELOPMENT"), second.BusinessContext.Environment)
}

func TestLoadManifest_MissingContentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("requests:\n  - content_file: missing.ts\n    transformations: []\n"), 0644))

	_, err := loadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 0")
}

func TestRender(t *testing.T) {
	v := struct {
		Name    string   `json:"name"`
		Count   int      `json:"count"`
		Tags    []string `json:"tags"`
		Skipped string   `json:"skipped,omitempty"`
	}{Name: "session.ts", Count: 2, Tags: []string{"a", "b"}}

	t.Run("yaml uses json field names", func(t *testing.T) {
		withOutputFormat(t, "yaml")
		var buf bytes.Buffer
		require.NoError(t, render(&buf, v))
		assert.Equal(t, "name: session.ts\ncount: 2\ntags:\n  - a\n  - b\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		withOutputFormat(t, "json")
		var buf bytes.Buffer
		require.NoError(t, render(&buf, v))
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "session.ts", decoded["name"])
		assert.NotContains(t, decoded, "skipped")
	})

	t.Run("unknown format", func(t *testing.T) {
		withOutputFormat(t, "xml")
		assert.Error(t, render(&bytes.Buffer{}, v))
	})
}

func TestRunClassify(t *testing.T) {
	withOutputFormat(t, "json")
	var buf bytes.Buffer
	classifyCmd.SetOut(&buf)
	t.Cleanup(func() { classifyCmd.SetOut(nil) })

	require.NoError(t, runClassify(classifyCmd, []string{"429", "Too", "Many", "Requests"}))

	var analysis struct {
		Category string `json:"category"`
		Cause    string `json:"cause"`
		Strategy struct {
			Type string `json:"type"`
		} `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &analysis))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", analysis.Category)
	assert.Equal(t, "429 Too Many Requests", analysis.Cause)
	assert.Equal(t, "RETRY_WITH_BACKOFF", analysis.Strategy.Type)
}

func TestBusinessContextFromFlags(t *testing.T) {
	t.Run("no flags", func(t *testing.T) {
		cmd := &cobra.Command{Use: "check"}
		registerCheckFlags(cmd)
		assert.Nil(t, businessContextFromFlags(cmd))
	})

	t.Run("criticality and environment", func(t *testing.T) {
		cmd := &cobra.Command{Use: "check"}
		registerCheckFlags(cmd)
		require.NoError(t, cmd.Flags().Set("criticality", "0.9"))
		require.NoError(t, cmd.Flags().Set("environment", "PRODUCTION"))

		bc := businessContextFromFlags(cmd)
		require.NotNil(t, bc)
		require.NotNil(t, bc.Criticality)
		assert.InDelta(t, 0.9, *bc.Criticality, 1e-9)
		assert.Equal(t, models.Environment("PRODUCTION"), bc.Environment)
		assert.False(t, bc.AccessControl)
	})
}

func TestErrorMessage(t *testing.T) {
	typed := errors.ConfigErrorf("missing %s", "redis_addr").WithContext("file", "crisk.yaml")

	tests := []struct {
		name     string
		err      error
		verbose  bool
		contains []string
		exact    string
	}{
		{"plain error", stderrors.New("boom"), true, nil, "Error: boom\n"},
		{"typed error quiet", typed, false, nil, "Error: " + typed.Error() + "\n"},
		{"typed error verbose", typed, true, []string{"[CONFIG_ERROR] missing redis_addr", "Context:", "file: crisk.yaml"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err, tt.verbose)
			if tt.exact != "" {
				assert.Equal(t, tt.exact, got)
			}
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}
