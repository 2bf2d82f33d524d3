// Package bridge relays calls from web pages and the ad facade to remote
// ad abilities: strings are chunked into RPC messages, sent with a callback
// object, and answered through that object.
package bridge

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxChunkLen is the default chunk size, in runes.
	MaxChunkLen = 32768
	// MaxPayloadLen is the largest argument or response accepted, in runes.
	MaxPayloadLen = 52428800
)

// Chunk splits s into ordered pieces of at most maxLen runes. Lengths are
// counted in runes so that no piece ends inside a character. An empty s
// yields no chunks. maxLen must be positive.
func Chunk(s string, maxLen int) []string {
	if maxLen <= 0 {
		panic("bridge: chunk length must be positive")
	}
	if s == "" {
		return []string{}
	}
	chunks := make([]string, 0, PayloadLen(s)/maxLen+1)
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < maxLen {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

// Reassemble concatenates chunks in order.
func Reassemble(chunks []string) string {
	return strings.Join(chunks, "")
}

// PayloadLen is the length of s as Chunk and the payload ceiling count it.
func PayloadLen(s string) int {
	return utf8.RuneCountInString(s)
}
