package keys

import (
	"unicode/utf8"

	"github.com/Eggwite/megacloud-key-extractor/utils"
)

// Class is the validator's verdict on a candidate string.
type Class uint8

const (
	ClassFound Class = iota
	ClassNonHex
	ClassWrongLength
)

func (c Class) String() string {
	switch c {
	case ClassNonHex:
		return "nonHex"
	case ClassWrongLength:
		return "wrongLength"
	default:
		return "found"
	}
}

// ValidLengths are the key lengths, in characters, an AES key string can have
// in the scripts this tool targets.
var ValidLengths = []int{16, 24, 32, 48, 51, 64}

func validLength(n int) bool {
	for _, l := range ValidLengths {
		if l == n {
			return true
		}
	}
	return false
}

// Validate classifies s and returns its length in characters. Length is
// checked first, so a short non-hex string is wrongLength.
func Validate(s string) (Class, int) {
	n := utf8.RuneCountInString(s)
	if !validLength(n) {
		return ClassWrongLength, n
	}
	if !utils.IsHex(s) {
		return ClassNonHex, n
	}
	return ClassFound, n
}
