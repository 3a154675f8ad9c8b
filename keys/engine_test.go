package keys

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Eggwite/megacloud-key-extractor/visitors"
)

func extract(t *testing.T, src string, exhaustive bool) *Result {
	t.Helper()
	e := NewEngine(Options{Exhaustive: exhaustive}, zaptest.NewLogger(t))
	return e.Extract(parse(t, src))
}

func all(r *Result) []Candidate {
	var out []Candidate
	out = append(out, r.Found...)
	out = append(out, r.NonHex...)
	return append(out, r.WrongLength...)
}

func TestCharCodeSpread(t *testing.T) {
	r := extract(t, `
		var E = [104, 101, 108, 108, 111];
		function k() { return String.fromCharCode(...E); }
	`, true)

	require.Len(t, r.WrongLength, 1)
	c := r.WrongLength[0]
	assert.Equal(t, "hello", c.Value)
	assert.Equal(t, KindCharCode, c.Extractor)
	assert.Equal(t, 5, c.Length)
	assert.Equal(t, []string{"E"}, c.Sources)
	assert.Empty(t, r.Found)
}

func TestCharCodeDirectArguments(t *testing.T) {
	r := extract(t, `var k = String.fromCharCode(104, 105);`, true)
	require.Len(t, r.WrongLength, 1)
	assert.Equal(t, "hi", r.WrongLength[0].Value)
}

func TestCharCodeHexMap(t *testing.T) {
	r := extract(t, `
		var H = ["68", "69"];
		var k = H.map(function (h) { return String.fromCharCode(parseInt(h, 16)); }).join("");
	`, true)

	var values []string
	for _, c := range all(r) {
		values = append(values, c.Value)
	}
	assert.Contains(t, values, "hi")
	assert.Empty(t, r.Diagnostics)
}

func TestConcatenatedSegments(t *testing.T) {
	r := extract(t, `
		function s1() { return "aaaa"; }
		function s2() { return "bbbb"; }
		function s3() { return "cccc"; }
		function getKey() { return s1() + s2() + s3(); }
	`, true)

	got := all(r)
	require.Len(t, got, 1)
	want := Candidate{
		Value:     "aaaabbbbcccc",
		Extractor: KindConcat,
		Sources:   []string{"s1", "s2", "s3"},
		Class:     ClassWrongLength,
		Length:    12,
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("candidate mismatch (-want +got):\n%s", diff)
	}
}

func TestConcatenatedObjectProperties(t *testing.T) {
	half := "0123456789abcdef"
	r := extract(t, `
		var parts = { a: function () { return "`+half+`"; }, b: "`+half+`" };
		var ref = parts;
		function getKey() { return ref.a() + ref.b; }
	`, true)

	require.Len(t, r.Found, 1)
	assert.Equal(t, half+half, r.Found[0].Value)
	assert.Equal(t, []string{"ref.a", "ref.b"}, r.Found[0].Sources)
}

func TestConcatenatedUnresolvedSegment(t *testing.T) {
	r := extract(t, `
		function s1() { return "aaaa"; }
		function getKey() { return s1() + unknown(); }
	`, true)

	assert.Empty(t, all(r))
	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, "extract-key", r.Diagnostics[0].Stage)
	assert.Contains(t, r.Diagnostics[0].Message, "unknown()")
	assert.Contains(t, r.Diagnostics[0].Message, "getKey")
}

func TestArrayJoin(t *testing.T) {
	key := strings.Repeat("ab", 8)
	r := extract(t, `
		var parts = [];
		parts[0] = "`+key[:8]+`";
		parts[1] = "`+key[8:]+`";
		var k = parts.join("");
	`, true)

	require.Len(t, r.Found, 1)
	assert.Equal(t, key, r.Found[0].Value)
	assert.Equal(t, KindArrayJoin, r.Found[0].Extractor)
	assert.Equal(t, []string{"parts"}, r.Found[0].Sources)
}

func TestArrayJoinGather(t *testing.T) {
	r := extract(t, `
		var src = ["a", "b", "c", "d"];
		var idx = [3, 1, 0];
		var k = idx.map(i => src[i]).join("");
	`, true)

	require.Len(t, r.WrongLength, 1)
	assert.Equal(t, "dba", r.WrongLength[0].Value)
	assert.ElementsMatch(t, []string{"idx", "src"}, r.WrongLength[0].Sources)
}

func TestArrayJoinGatherOutOfRange(t *testing.T) {
	r := extract(t, `
		var src = ["a", "b"];
		var idx = [0, 9];
		var k = idx.map(function (i) { return src[i]; }).join("");
	`, true)

	assert.Empty(t, all(r))
	require.NotEmpty(t, r.Diagnostics)
	assert.Contains(t, r.Diagnostics[0].Message, "outside its source")
}

func TestReversedString(t *testing.T) {
	r := extract(t, `
		var rev = "olleh";
		var k = rev.split("").reverse().join("");
	`, true)

	require.Len(t, r.WrongLength, 1)
	assert.Equal(t, "hello", r.WrongLength[0].Value)
	assert.Equal(t, KindReversed, r.WrongLength[0].Extractor)
	assert.Equal(t, []string{"rev"}, r.WrongLength[0].Sources)
}

func TestSlicedHexString(t *testing.T) {
	long := strings.Repeat("0f", 20)
	r := extract(t, `
		var material = "`+long+`";
		var k = material.slice(4, 36);
		var skipped = "not hex at all".slice(1, 3);
	`, true)

	require.Len(t, r.Found, 1)
	assert.Equal(t, long[4:36], r.Found[0].Value)
	assert.Equal(t, KindReversed, r.Found[0].Extractor)
}

func TestDuplicatesSuppressed(t *testing.T) {
	r := extract(t, `
		var a = String.fromCharCode(104, 105);
		var b = String.fromCharCode(104, 105);
	`, true)
	assert.Len(t, r.WrongLength, 1)
}

func TestStopsAtFirstKey(t *testing.T) {
	first := strings.Repeat("1", 32)
	second := strings.Repeat("2", 32)
	src := `
		var a = ["` + first + `"].join("");
		var b = ["` + second + `"].join("");
	`

	r := extract(t, src, false)
	assert.Equal(t, []string{first}, r.Keys())

	r = extract(t, src, true)
	assert.Equal(t, []string{first, second}, r.Keys())
}

func TestResultMergeSkipsHeldCandidates(t *testing.T) {
	key := "0123456789abcdeffedcba9876543210"
	r := &Result{Found: []Candidate{{Value: key, Extractor: KindConcat, Class: ClassFound, Length: 32}}}
	other := &Result{
		Found: []Candidate{
			{Value: key, Extractor: KindConcat, Class: ClassFound, Length: 32},
			{Value: key, Extractor: KindArrayJoin, Class: ClassFound, Length: 32},
		},
		NonHex:      []Candidate{{Value: "zz", Extractor: KindConcat, Class: ClassNonHex, Length: 2}},
		Diagnostics: []visitors.Diagnostic{{Stage: stage, Message: "ignored"}},
	}

	r.Merge(other)
	r.Merge(nil)

	require.Len(t, r.Found, 2)
	assert.Equal(t, KindConcat, r.Found[0].Extractor)
	assert.Equal(t, KindArrayJoin, r.Found[1].Extractor)
	assert.Len(t, r.NonHex, 1)
	assert.Empty(t, r.Diagnostics)
}
