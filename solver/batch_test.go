package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mapLoader map[string]string

func (m mapLoader) Load(_ context.Context, input string) (string, error) {
	src, ok := m[input]
	if !ok {
		return "", fmt.Errorf("no such input %s", input)
	}
	return src, nil
}

func TestRunAllKeepsInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader := mapLoader{
		"one.js":   segmentScript,
		"two.js":   `console.log(1);`,
		"three.js": segmentScript,
	}
	inputs := []string{"one.js", "missing.js", "two.js", "three.js"}

	items, err := newPipeline(t, Options{}).RunAll(context.Background(), loader, inputs, 2)
	require.NoError(t, err)
	require.Len(t, items, len(inputs))

	for i, it := range items {
		assert.Equal(t, inputs[i], it.Input)
	}
	assert.Equal(t, []string{segmentKey}, items[0].Result.Keys.Keys())
	assert.Error(t, items[1].Err)
	assert.Nil(t, items[1].Result)
	assert.Empty(t, items[2].Result.Keys.Found)
	assert.Equal(t, []string{segmentKey}, items[3].Result.Keys.Keys())
}

func TestRunAllWithFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.js")
	require.NoError(t, os.WriteFile(path, []byte(segmentScript), 0o644))

	items, err := newPipeline(t, Options{}).RunAll(context.Background(), NewFetcherWithClient(nil), []string{path}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, items[0].Err)
	assert.Equal(t, []string{segmentKey}, items[0].Result.Keys.Keys())
}

func TestRunAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, Options{}).RunAll(ctx, mapLoader{"a.js": segmentScript}, []string{"a.js"}, 1)
	require.ErrorIs(t, err, context.Canceled)
}
