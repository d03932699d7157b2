package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kairo/internal/model"
	"github.com/ashita-ai/kairo/internal/replay"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"a=h1", "b=h1", "c=h2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "h1", "b": "h1", "c": "h2"}, got)

	tests := []struct {
		name string
		args []string
	}{
		{"missing separator", []string{"a"}},
		{"empty hash", []string{"a="}},
		{"empty label", []string{"=h"}},
		{"duplicate", []string{"a=h", "a=h"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parsePairs(tc.args)
			assert.Error(t, err)
		})
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report(&buf, model.ReplayEpisode{EpisodeID: "ep", Certified: true}))
	assert.Contains(t, buf.String(), `"certified": true`)

	buf.Reset()
	err := report(&buf, model.ReplayEpisode{EpisodeID: "ep", Variance: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not certified")
}

func TestValidateCommandKeepsCycles(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"validate", "--seed", "42", "--cycles", "12", "a=h", "b=h", "c=h"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		seed, cycles = "0", replay.DefaultCycles
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), `"cycles": 12`)
	assert.Contains(t, buf.String(), `"certified": true`)
}
