package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eggwite/megacloud-key-extractor/internal/observability"
)

const keyScript = `
function a() { return "0123456789abcdef"; }
function b() { return "fedcba9876543210"; }
function getKey() { return a() + b(); }
use(getKey());
`

const key = "0123456789abcdeffedcba9876543210"

func writeScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootPrintsKey(t *testing.T) {
	path := writeScript(t, "player.js", keyScript)

	out, _, err := execute(t, "--silent", path)
	require.NoError(t, err)
	assert.Equal(t, key+"\n", out)
}

func TestRootInputFlag(t *testing.T) {
	path := writeScript(t, "player.js", keyScript)

	out, _, err := execute(t, "-s", "-i", path)
	require.NoError(t, err)
	assert.Equal(t, key+"\n", out)
}

func TestRootReportsNoKey(t *testing.T) {
	path := writeScript(t, "plain.js", `console.log("nothing here");`)

	out, errOut, err := execute(t, path)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "no key found")
}

func TestRootJSONReport(t *testing.T) {
	path := writeScript(t, "player.js", keyScript)

	out, _, err := execute(t, "-s", "--json", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "["))
	assert.Contains(t, out, `"found"`)
	assert.Contains(t, out, key)
}

func TestRootWritesSimplifiedProgram(t *testing.T) {
	path := writeScript(t, "player.js", keyScript)
	outPath := filepath.Join(t.TempDir(), "simplified.js")

	_, _, err := execute(t, "-s", "-o", outPath, path)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "getKey")
}

func TestRootBatch(t *testing.T) {
	first := writeScript(t, "one.js", keyScript)
	second := writeScript(t, "two.js", keyScript)
	outDir := filepath.Join(t.TempDir(), "out")

	out, _, err := execute(t, "-s", "-o", outDir, first, second)
	require.NoError(t, err)
	assert.Equal(t, first+"\t"+key+"\n"+second+"\t"+key+"\n", out)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "00-one.js", entries[0].Name())
	assert.Equal(t, "01-two.js", entries[1].Name())
}

func TestRootFailsOnBadInput(t *testing.T) {
	bad := writeScript(t, "bad.js", "var = ;")

	_, _, err := execute(t, "-s", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed at stage parse")

	_, _, err = execute(t, "-s", filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
}

func TestRootRequiresInput(t *testing.T) {
	_, _, err := execute(t, "-s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input given")
}

func TestRootEnvOverride(t *testing.T) {
	t.Setenv("KEYEXTRACT_ENGINE_CONCURRENCY", "0")
	path := writeScript(t, "player.js", keyScript)

	_, _, err := execute(t, "-s", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.concurrency")
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "player.js", artifactName("/tmp/player.js"))
	assert.Equal(t, "e1-player.min.js", artifactName("https://cdn.example.com/js/e1-player.min.js?v=2"))
	assert.Equal(t, "script.js", artifactName("https://cdn.example.com/js/script"))
}
