package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const alphanum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewSessionToken builds the opaque, unguessable session token: a 64-character
// lowercase hex string that is SHA-256(nanos_since_epoch || 32-char
// crypto/rand alphanumeric string). It mirrors
// web-server/src/utils/token.rs::create_session_token exactly so tokens from
// either implementation are indistinguishable in shape.
func NewSessionToken() (string, error) {
	random, err := randomAlphanum(32)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}

	seed := fmt.Sprintf("%d%s", time.Now().UnixNano(), random)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:]), nil
}

func randomAlphanum(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanum[int(b)%len(alphanum)]
	}
	return string(out), nil
}
