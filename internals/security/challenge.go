package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// Challenge strings are fixed-format so both sides can derive them without a
// server round trip. The embedded id binds the signature to exactly one
// registration attempt or task reply.

func RegisterChallenge(requestID string) []byte {
	return []byte(fmt.Sprintf("watchpost.register.%s", requestID))
}

func ReplyChallenge(correlationID string) []byte {
	return []byte(fmt.Sprintf("watchpost.reply.%s", correlationID))
}

// VerifySignature checks a base64 ed25519 signature over the given challenge
// against a base64 public key. Malformed keys or signatures fail closed.
func VerifySignature(publicKeyB64 string, challenge []byte, signatureB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), challenge, sig)
}
