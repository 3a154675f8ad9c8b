package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		class  Class
		length int
	}{
		{"32 hex", strings.Repeat("a1", 16), ClassFound, 32},
		{"64 hex uppercase", strings.Repeat("F0", 32), ClassFound, 64},
		{"64 with non-hex", strings.Repeat("ab", 31) + "zz", ClassNonHex, 64},
		{"10 hex", "0123456789", ClassWrongLength, 10},
		{"short non-hex", "hello", ClassWrongLength, 5},
		{"empty", "", ClassWrongLength, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, n := Validate(tt.input)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.length, n)
		})
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "found", ClassFound.String())
	assert.Equal(t, "nonHex", ClassNonHex.String())
	assert.Equal(t, "wrongLength", ClassWrongLength.String())
}
