package whttp

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DecodeText returns body as UTF-8. Bodies that are not valid UTF-8 are
// read as ISO-8859-1, which maps every byte to a code point.
func DecodeText(body []byte) ([]byte, error) {
	if utf8.Valid(body) {
		return body, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(body)
}
