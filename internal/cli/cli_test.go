package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingPong = `
name: pingpong
threads:
  - name: ping
    priority: 3
    steps:
      - sleep: {queue: q, timeout: 1h}
  - name: pong
    priority: 2
    steps:
      - boost: {thread: ping, priority: 7}
      - wake_one: q
`

func writeScenario(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]logiface.Level{
		"debug":   logiface.LevelDebug,
		" INFO ":  logiface.LevelInformational,
		"warn":    logiface.LevelWarning,
		"off":     logiface.LevelDisabled,
		"trace":   logiface.LevelTrace,
		"err":     logiface.LevelError,
		"warning": logiface.LevelWarning,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestLevelFlag(t *testing.T) {
	var x levelFlag
	assert.Equal(t, "level", x.Type())
	require.NoError(t, x.Set("debug"))
	assert.Equal(t, logiface.LevelDebug, x.level)
	assert.Equal(t, "debug", x.String())
	require.NoError(t, x.Set("disabled"))
	assert.Equal(t, "disabled", x.String())
	assert.Error(t, x.Set("nope"))
}

func TestValidateCmd(t *testing.T) {
	good := writeScenario(t, "good.yaml", pingPong)
	bad := writeScenario(t, "bad.yaml", "name: bad\nthreads: [{name: a, priority: 300}]\n")

	out, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (pingpong, 2 threads, 3 steps, 1 queues)")

	_, errOut, err := execute(t, "validate", good, bad)
	assert.EqualError(t, err, "1 of 2 scenarios invalid")
	assert.Contains(t, errOut, "priority 300 out of range")
}

func TestRunCmd(t *testing.T) {
	path := writeScenario(t, "pingpong.yaml", pingPong)
	db := filepath.Join(t.TempDir(), "trace.db")

	out, errOut, err := execute(t, "--log-level", "info", "run", path, "--run-id", "r1", "--trace", "--trace-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "run r1: scenario pingpong finished")
	assert.Contains(t, out, "7 (base 3)")
	assert.Contains(t, out, "1st switch at")
	assert.Contains(t, out, "saved run r1 to "+db)
	assert.Contains(t, errOut, `"msg":"scenario finished"`)

	out, _, err = execute(t, "runs", "--trace-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "pingpong")
}

func TestRunCmd_deadline(t *testing.T) {
	path := writeScenario(t, "stuck.yaml", "name: stuck\nthreads: [{name: a, priority: 2, steps: [{sleep: {queue: q}}]}]\n")

	out, _, err := execute(t, "--log-level", "off", "run", path, "--deadline", "10ms")
	require.Error(t, err)
	assert.ErrorContains(t, err, "deadline exceeded")
	assert.Contains(t, out, "Sleeping")
}

func TestRunCmd_missingFile(t *testing.T) {
	_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read scenario")
}
