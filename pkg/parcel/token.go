package parcel

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenLen is the length of a download token in hex characters.
const TokenLen = 16

// Token derives the download token for a package id. It is a pure function of
// id: anyone who can guess an id can compute its token.
func Token(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:TokenLen]
}

// ValidToken reports whether s has the shape of a token returned by Token.
func ValidToken(s string) bool {
	if len(s) != TokenLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
