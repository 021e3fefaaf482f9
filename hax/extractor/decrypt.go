package extractor

import (
	"fmt"

	"github.com/MinasukiHikimuna/Culture-sub002/hax/keytree"
	"golang.org/x/crypto/chacha20poly1305"
)

// AuthenticationError reports a segment whose ciphertext failed the AEAD tag
// check under its derived key. Unlike KeyUnavailableError this is fatal: it
// means the derivation is wrong or the container is corrupt, and neither is
// fixed by waiting for more disclosure.
type AuthenticationError struct {
	Segment int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("hax: segment %d failed authentication", e.Segment)
}

// decryptSegment opens one segment's ciphertext (tag included) under its
// derived key. The nonce is all zeros for every segment; uniqueness comes
// from each segment having a distinct derived key.
func decryptSegment(index int, key keytree.Key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	var nonce [chacha20poly1305.NonceSize]byte
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, &AuthenticationError{Segment: index}
	}

	return plaintext, nil
}
