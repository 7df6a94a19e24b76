package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calcModel = `
id: calc
nodes:
  - {id: start, kind: startEvent}
  - {id: double, kind: scriptTask, script: "{ n = n * 2 }"}
  - {id: end, kind: endEvent}
flows:
  - {source: start, target: double}
  - {source: double, target: end}
`

const brokenModel = `
id: broken
nodes:
  - {id: start, kind: startEvent}
  - {id: end, kind: endEvent}
  - {id: orphan, kind: scriptTask, script: "1"}
flows:
  - {source: start, target: end}
  - {source: orphan, target: missing}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	_, err = LoadConfig(filepath.Join(dir, "absent.yaml"), true)
	assert.Error(t, err)

	path := writeFile(t, dir, "processengine.yaml", `
models: ./models
expression_timeout: 250ms
log:
  level: debug
store:
  backend: redis
  redis:
    address: redis:6379
`)
	cfg, err = LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "./models", cfg.Models)
	assert.Equal(t, 250*time.Millisecond, cfg.ExpressionTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Address)
	assert.Equal(t, "processengine:", cfg.Store.Redis.Prefix, "unset keys keep their default")

	bad := writeFile(t, dir, "bad.yaml", "store: {backend: etcd}\n")
	_, err = LoadConfig(bad, true)
	assert.ErrorContains(t, err, "etcd")

	shortKey := writeFile(t, dir, "key.yaml", "store: {encryption_keys: [c2hvcnQ=]}\n")
	_, err = LoadConfig(shortKey, true)
	assert.ErrorContains(t, err, "32 bytes")
}

func TestRunCommand_BoltStore(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	require.NoError(t, os.Mkdir(models, 0o755))
	writeFile(t, models, "calc.yaml", calcModel)
	cfgPath := writeFile(t, dir, "processengine.yaml", `
models: `+models+`
services: `+filepath.Join(dir, "services.yaml")+`
log: {level: error}
store:
  backend: bolt
  bolt: {path: `+filepath.Join(dir, "state.db")+`}
  encryption_keys: [AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=]
`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "calc", "--config", cfgPath, "--payload", `{"n": 21}`, "--timeout", "5s"})
	require.NoError(t, rootCmd.Execute())

	var got outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "completed", got.State)
	assert.Equal(t, map[string]any{"n": float64(42)}, got.Payload)
	require.Len(t, got.History, 3)
	assert.Equal(t, "double", got.History[1].FlowNodeID)
	assert.FileExists(t, filepath.Join(dir, "state.db"))
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "calc.yaml", calcModel)
	broken := writeFile(t, dir, "broken.yaml", brokenModel)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"validate", good})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "calc.yaml: calc ok")

	rootCmd.SetArgs([]string{"validate", good, broken})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	assert.Contains(t, err.Error(), "orphan")
}
