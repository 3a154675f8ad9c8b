package solver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Eggwite/megacloud-key-extractor/keys"
)

const segmentScript = `
function a() { return "0123456789abcdef"; }
function b() { return "fedcba9876543210"; }
function getKey() { return a() + b(); }
use(getKey());
`

const segmentKey = "0123456789abcdeffedcba9876543210"

func newPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	return New(opts, zaptest.NewLogger(t))
}

func TestRunFindsKey(t *testing.T) {
	p := newPipeline(t, Options{})
	res, err := p.Run(context.Background(), "inline.js", segmentScript)
	require.NoError(t, err)

	assert.Equal(t, "inline.js", res.Input)
	assert.Equal(t, []string{segmentKey}, res.Keys.Keys())
	assert.Contains(t, res.Simplified, "getKey")
	assert.True(t, res.Stats.Converged)
}

func TestRunRemovesUnusedCode(t *testing.T) {
	src := `
		function unused() { return "never"; }
		var dead = [1, 2, 3];
		var k = ["` + segmentKey + `"].join("");
		use(k);
	`
	res, err := newPipeline(t, Options{}).Run(context.Background(), "dead.js", src)
	require.NoError(t, err)

	assert.NotContains(t, res.Simplified, "unused")
	assert.NotContains(t, res.Simplified, "dead")
	assert.Equal(t, []string{segmentKey}, res.Keys.Keys())
}

func TestRunReportsNoKey(t *testing.T) {
	res, err := newPipeline(t, Options{}).Run(context.Background(), "empty.js", `console.log("hi");`)
	require.NoError(t, err)
	assert.Empty(t, res.Keys.Found)
	assert.Empty(t, res.Keys.Keys())
}

func TestRunParseError(t *testing.T) {
	_, err := newPipeline(t, Options{}).Run(context.Background(), "bad.js", "var = ;")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
	assert.Contains(t, err.Error(), "failed at stage parse")
}

func TestRunEmptyInput(t *testing.T) {
	_, err := newPipeline(t, Options{}).Run(context.Background(), "blank.js", "  \n ")
	require.ErrorIs(t, err, ErrNoProgram)
}

func TestRunProgramNil(t *testing.T) {
	_, err := newPipeline(t, Options{}).RunProgram(context.Background(), "nil", nil)
	require.ErrorIs(t, err, ErrNoProgram)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, Options{}).Run(ctx, "cancelled.js", segmentScript)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "failed at stage "+StageNormalize)
}

func TestReportKeyOrder(t *testing.T) {
	res, err := newPipeline(t, Options{}).Run(context.Background(), "inline.js", segmentScript)
	require.NoError(t, err)

	out, err := MarshalReports([]BatchItem{{Input: "inline.js", Result: res}})
	require.NoError(t, err)
	text := string(out)

	order := []string{`"input"`, `"found"`, `"nonHex"`, `"wrongLength"`, `"diagnostics"`, `"stats"`}
	last := -1
	for _, key := range order {
		i := strings.Index(text, key)
		require.GreaterOrEqual(t, i, 0, key)
		assert.Greater(t, i, last, key)
		last = i
	}
	assert.Contains(t, text, segmentKey)
	assert.Contains(t, text, `"concatenated-function"`)
}

func TestMarshalReportsIncludesFailures(t *testing.T) {
	out, err := MarshalReports([]BatchItem{{Input: "missing.js", Err: errors.New("boom")}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"error": "boom"`)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/js/player.min.js"))
	assert.True(t, IsURL("http://localhost:8080/a.js"))
	assert.False(t, IsURL("scripts/player.js"))
	assert.False(t, IsURL("/abs/path.js"))
	assert.False(t, IsURL("ftp://example.com/a.js"))
}

func TestFetcherReadsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.js")
	require.NoError(t, os.WriteFile(path, []byte(segmentScript), 0o644))

	src, err := NewFetcherWithClient(nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, segmentScript, src)

	_, err = NewFetcherWithClient(nil).Load(context.Background(), filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
}

func TestOriginFromURL(t *testing.T) {
	assert.Equal(t, "https://example.com", originFromURL("https://example.com/js/a.js?v=1#x"))
}

func TestRunFindsKeyFromObjectMethods(t *testing.T) {
	src := `
var parts = {
	a: function () { return "0123456789abcdef"; },
	b: function () { return "fedcba9876543210"; }
};
function getKey() { return parts.a() + parts.b(); }
use(getKey());
`
	p := newPipeline(t, Options{})
	res, err := p.Run(context.Background(), "object.js", src)
	require.NoError(t, err)

	require.Len(t, res.Keys.Found, 1)
	found := res.Keys.Found[0]
	assert.Equal(t, segmentKey, found.Value)
	assert.Equal(t, keys.KindConcat, found.Extractor)
	assert.Equal(t, []string{"parts.a", "parts.b"}, found.Sources)

	exhaustive := newPipeline(t, Options{Exhaustive: true})
	res, err = exhaustive.Run(context.Background(), "object.js", src)
	require.NoError(t, err)
	assert.Contains(t, res.Keys.Keys(), segmentKey)
}
