package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/types"
)

func TestTotalMonthlyCost(t *testing.T) {
	records := []types.Record{
		{ID: "i-1", MonthlyCost: 29.95},
		{ID: "i-2", MonthlyCost: 60.48},
		{ID: "fn-1"},
	}

	assert.InDelta(t, 90.43, totalMonthlyCost(records), 0.001)
	assert.Zero(t, totalMonthlyCost(nil))
}

func TestReadEvent_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"action": "collect"}`), 0o644))

	handleEventPath = path
	defer func() { handleEventPath = "" }()

	data, err := readEvent()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action": "collect"}`, string(data))
}

func TestReadEvent_MissingFile(t *testing.T) {
	handleEventPath = filepath.Join(t.TempDir(), "absent.json")
	defer func() { handleEventPath = "" }()

	_, err := readEvent()
	assert.Error(t, err)
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"collect", "query", "audit", "handle", "daemon"}

	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, names[name], "missing subcommand %s", name)
	}
}
