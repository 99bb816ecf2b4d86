package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

const failingScenario = `name: expects_wrong_start
description: S1 is the only loaded start, so expecting S2 fails
config:
  regions:
    - {id: S1, role: start, camera: cam-a}
    - {id: S2, role: start, camera: cam-a}
    - {id: E1, role: end, camera: cam-b}
  compatibility:
    E1: [S1, S2]
steps:
  - observe: {region: S1, occupied: true}
  - observe: {region: E1, occupied: false}
  - elapse: 5s
assertions:
  - type: dispatched
    start: S2
    end: E1
`

func TestSimulate_ScenarioSuitePasses(t *testing.T) {
	out, err := execute(t, "simulate", scenariosDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ scenario_a_basic_dispatch")
	assert.Contains(t, out, "✓ scenario_g_drops_and_shutdown")
	assert.Contains(t, out, "Simulation Summary: 7 passed, 0 failed, 7 total")
}

func TestSimulate_JSONReportsGoldenMatch(t *testing.T) {
	out, err := execute(t, "simulate", scenariosDir, "--filter", "scenario_c*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   SimulateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)

	sc := resp.Data.Scenarios[0]
	assert.Equal(t, "scenario_c_round_robin", sc.Name)
	assert.True(t, sc.Pass)
	assert.Equal(t, "match", sc.Golden)
	assert.NotEmpty(t, sc.Sends)
}

func TestSimulate_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()

	out, err := execute(t, "simulate", scenariosDir, "--filter", "scenario_a*", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "scenario_a_basic_dispatch.golden"))
	require.NoError(t, err)
	existing, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "scenario_a_basic_dispatch.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(existing), string(written))
}

func TestSimulate_GoldenMismatchFails(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "scenario_a_basic_dispatch.golden"), []byte("{}\n"), 0o644))

	out, err := execute(t, "simulate", scenariosDir, "--filter", "scenario_a*", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestSimulate_FailingAssertion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(failingScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: [\n"), 0o644))

	out, err := execute(t, "simulate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ expects_wrong_start")
	assert.Contains(t, out, "✗ broken.yml")
	assert.Contains(t, out, "0 passed, 2 failed, 2 total")
}

func TestSimulate_CommandErrors(t *testing.T) {
	_, err := execute(t, "simulate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "simulate", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate_EmptyDir(t *testing.T) {
	out, err := execute(t, "simulate", t.TempDir())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "No scenarios found."))
}
