package visitors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eggwite/megacloud-key-extractor/evaluator"
	"github.com/Eggwite/megacloud-key-extractor/utils"
)

const rotatedTable = `
	var _t = ["zero", "one", "two", "three", "four", "five"];
	(function (arr, n) {
		var f = function (c) {
			while (--c) {
				arr.push(arr.shift());
			}
		};
		f(++n);
	})(_t, 2);
	function _a(i, k) {
		i = i - 100;
		var s = _t[i];
		return s;
	}
	var alias = _a;
	function _w(x, y) { return _a(x - 10, y); }
	console.log(_a(100), alias(101), _w(112));
`

func TestSolveStringsRotatedTable(t *testing.T) {
	p := parse(t, rotatedTable)
	table, diags := SolveStrings(p, StringOptions{})
	require.NotNil(t, table, "diagnostics: %v", diags)
	assert.Empty(t, diags)

	assert.Equal(t, "_t", table.Table)
	assert.Equal(t, "_a", table.Accessor)
	assert.Equal(t, 100, table.Offset)
	assert.Equal(t, DecodePlain, table.Kind)
	assert.Equal(t, 2, table.Rotations)
	assert.Equal(t, []string{"two", "three", "four", "five", "zero", "one"}, table.Entries)
	assert.Equal(t, []string{"alias"}, table.Aliases)
	assert.Equal(t, []string{"_a", "_w", "alias"}, table.Names())
	assert.NotNil(t, table.Shuffle)

	got, ok := table.Resolve("_w", []evaluator.Value{evaluator.NumberValue(112)})
	require.True(t, ok)
	assert.Equal(t, "four", got)

	_, ok = table.Resolve("_a", []evaluator.Value{evaluator.NumberValue(99)})
	assert.False(t, ok, "index below the offset resolved")
}

func TestInlineStrings(t *testing.T) {
	p := parse(t, rotatedTable)
	table, _ := SolveStrings(p, StringOptions{})
	require.NotNil(t, table)

	res := InlineStrings(p, table)
	assert.Equal(t, 3, res.Calls)
	assert.Zero(t, res.Unresolved)

	args := lastCallArgs(t, p)
	require.Len(t, args, 3)
	assert.Equal(t, "two", stringArg(t, args[0]))
	assert.Equal(t, "three", stringArg(t, args[1]))
	assert.Equal(t, "four", stringArg(t, args[2]))
	assert.NotContains(t, render(p), "arr.push", "shuffle call was kept")
}

func TestInlineStringsReportsComputedArguments(t *testing.T) {
	p := parse(t, rotatedTable+`use(_a(n));`)
	table, _ := SolveStrings(p, StringOptions{})
	require.NotNil(t, table)

	res := InlineStrings(p, table)
	assert.Equal(t, 1, res.Unresolved)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "inline-strings", res.Diagnostics[0].Stage)
	assert.Contains(t, res.Diagnostics[0].Message, "has a computed argument")
}

func TestSolveStringsBase64(t *testing.T) {
	codec := utils.NewCodec("")
	enc := func(s string) string { return codec.EncodeBase64([]byte(s)) }
	src := `
		var tbl = ["` + enc("alpha") + `", "` + enc("beta") + `", "` + enc("gamma") + `", "` + enc("delta") + `", "` + enc("epsilon") + `"];
		function dec(i) {
			i = i - 0;
			var abc = "` + utils.StringArrayAlphabet + `";
			return tbl[i];
		}
		out(dec(2));
	`
	p := parse(t, src)
	table, diags := SolveStrings(p, StringOptions{})
	require.NotNil(t, table, "diagnostics: %v", diags)
	assert.Equal(t, DecodeBase64, table.Kind)

	got, ok := table.Resolve("dec", []evaluator.Value{evaluator.NumberValue(2)})
	require.True(t, ok)
	assert.Equal(t, "gamma", got)
}

type fixedDecoder map[int]string

func (d fixedDecoder) Decode(index int, _ string) (string, bool) {
	s, ok := d[index]
	return s, ok
}

func TestSolveStringsFallsBackForUnknownDecoders(t *testing.T) {
	src := `
		var tbl = ["a", "b", "c", "d", "e"];
		function get(i) {
			i = i - 1;
			return mystery(tbl[i]);
		}
		out(get(1));
	`
	var gotAccessor string
	opts := StringOptions{Fallback: func(source, accessor string) (Decoder, error) {
		gotAccessor = accessor
		return fixedDecoder{1: "from-vm"}, nil
	}}
	table, _ := SolveStrings(parse(t, src), opts)
	require.NotNil(t, table)
	assert.Equal(t, "get", gotAccessor)
	assert.Equal(t, DecodeScript, table.Kind)

	got, ok := table.Resolve("get", []evaluator.Value{evaluator.NumberValue(1)})
	require.True(t, ok)
	assert.Equal(t, "from-vm", got)

	opts.Fallback = func(string, string) (Decoder, error) { return nil, errors.New("vm failed") }
	table, diags := SolveStrings(parse(t, src), opts)
	assert.Nil(t, table)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "fallback failed: vm failed")
}

func TestSolveStringsWithoutTable(t *testing.T) {
	table, diags := SolveStrings(parse(t, `var x = ["a"]; f(x);`), StringOptions{})
	assert.Nil(t, table)
	assert.Empty(t, diags)
}

func TestCodecRC4IsSymmetric(t *testing.T) {
	codec := utils.NewCodec("")
	cipher, err := codec.DecodeRC4(codec.EncodeBase64([]byte("secret")), "key")
	require.NoError(t, err)
	plain, err := codec.DecodeRC4(codec.EncodeBase64([]byte(cipher)), "key")
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)
}
