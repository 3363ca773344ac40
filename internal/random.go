package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const tokenRawSize = 32

// Token is the raw form of a session credential. Tokens are generated from
// crypto/rand and carry no embedded structure: nothing about the session id,
// owner, or issue time can be recovered from the encoded form.
type Token [tokenRawSize]byte

// NewToken generates a fresh high-entropy session token.
func NewToken() (Token, error) {
	var tok Token
	_, err := rand.Read(tok[:])
	return tok, err
}

// String encodes the token as compact base64url without padding.
func (t Token) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// ParseToken decodes an encoded token and validates its size. It does not
// consult any store; a well-formed token may still be unknown.
func ParseToken(encoded string) (Token, error) {
	var tok Token

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return tok, err
	}
	if len(raw) != len(tok) {
		return tok, errors.New("invalid token size")
	}

	copy(tok[:], raw)
	return tok, nil
}
