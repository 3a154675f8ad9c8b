package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const decoderSource = `
var table = ["alpha", "beta", "gamma"];
function get(i, k) {
	var s = table[i - 10];
	return k ? s + ":" + k : s;
}
`

func TestDecode(t *testing.T) {
	vm, err := Load(decoderSource, "get", time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)

	s, ok := vm.Decode(11, "")
	require.True(t, ok)
	assert.Equal(t, "beta", s)

	s, ok = vm.Decode(12, "key")
	require.True(t, ok)
	assert.Equal(t, "gamma:key", s)

	// Out of range yields undefined, which is not a string.
	_, ok = vm.Decode(40, "")
	assert.False(t, ok)
}

func TestLoadRejectsMissingAccessor(t *testing.T) {
	_, err := Load(decoderSource, "table", time.Second, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a function")

	_, err = Load("var x = ;", "get", time.Second, nil)
	require.Error(t, err)
}

func TestLoadTimesOut(t *testing.T) {
	start := time.Now()
	_, err := Load("while (true) {}", "get", 50*time.Millisecond, zaptest.NewLogger(t))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDecodeTimesOut(t *testing.T) {
	src := `function spin(i) { while (true) {} }`
	vm, err := Load(src, "spin", 50*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, ok := vm.Decode(1, "")
	assert.False(t, ok)
}

func TestFallbackAdapter(t *testing.T) {
	fb := Fallback(time.Second, zaptest.NewLogger(t))
	dec, err := fb(decoderSource, "get")
	require.NoError(t, err)

	s, ok := dec.Decode(10, "")
	require.True(t, ok)
	assert.Equal(t, "alpha", s)
}
