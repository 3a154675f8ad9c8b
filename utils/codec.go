package utils

import (
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// StringArrayAlphabet is the lowercase-first base64 alphabet that string-array
// obfuscators emit next to their decoder.
const StringArrayAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/="

var ErrInvalidUTF8 = errors.New("decoded bytes are not valid utf-8")

// Codec decodes strings the same way the embedded decoder does at runtime,
// driven by the alphabet recovered from the script.
type Codec struct {
	keyStr string
}

func NewCodec(keyStr string) *Codec {
	if keyStr == "" {
		keyStr = StringArrayAlphabet
	}
	return &Codec{
		keyStr: keyStr,
	}
}

func (c *Codec) Alphabet() string {
	return c.keyStr
}

// DecodeBase64 mirrors the byte-at-a-time decode loop: characters outside the
// alphabet are skipped and every fourth character starts a new group.
func (c *Codec) DecodeBase64(input string) []byte {
	var (
		out    = make([]byte, 0, len(input)*3/4)
		bc, bs int
	)

	for i := 0; i < len(input); i++ {
		idx := strings.IndexByte(c.keyStr, input[i])
		if idx < 0 {
			continue
		}
		if bc%4 != 0 {
			bs = bs*64 + idx
		} else {
			bs = idx
		}
		prev := bc
		bc++
		if prev%4 != 0 {
			out = append(out, byte(255&(bs>>uint((-2*bc)&6))))
		}
	}
	return out
}

// DecodeString decodes input and then percent-decodes the bytes as UTF-8,
// which is what decodeURIComponent does with the escaped byte string.
func (c *Codec) DecodeString(input string) (string, error) {
	raw := c.DecodeBase64(input)
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	return string(raw), nil
}

// DecodeRC4 decodes input and then runs RC4 keyed by key over its UTF-16
// code units.
func (c *Codec) DecodeRC4(input, key string) (string, error) {
	decoded, err := c.DecodeString(input)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("empty rc4 key")
	}

	data := utf16.Encode([]rune(decoded))
	k := utf16.Encode([]rune(key))

	var s [256]int
	for i := range s {
		s[i] = i
	}
	j := 0
	for i := 0; i < 256; i++ {
		j = (j + s[i] + int(k[i%len(k)])) % 256
		s[i], s[j] = s[j], s[i]
	}

	out := make([]uint16, len(data))
	i, j := 0, 0
	for y := range data {
		i = (i + 1) % 256
		j = (j + s[i]) % 256
		s[i], s[j] = s[j], s[i]
		out[y] = data[y] ^ uint16(s[(s[i]+s[j])%256])
	}
	return string(utf16.Decode(out)), nil
}

// EncodeBase64 is the inverse of DecodeBase64 for byte input. It is used to
// build fixtures that exercise the decoder.
func (c *Codec) EncodeBase64(input []byte) string {
	var sb strings.Builder
	for i := 0; i < len(input); i += 3 {
		var chunk [3]byte
		n := copy(chunk[:], input[i:])
		val := int(chunk[0])<<16 | int(chunk[1])<<8 | int(chunk[2])
		sb.WriteByte(c.keyStr[(val>>18)&63])
		sb.WriteByte(c.keyStr[(val>>12)&63])
		if n > 1 {
			sb.WriteByte(c.keyStr[(val>>6)&63])
		}
		if n > 2 {
			sb.WriteByte(c.keyStr[val&63])
		}
	}
	return sb.String()
}
