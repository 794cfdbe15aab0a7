package identity

import (
	"crypto/subtle"
	"watchpost/internals/security"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Verifier decides whether a task reply really came from the agent it claims
// to. Failures are logged but never surfaced to the connection, so probing
// clients get no verification oracle.
type Verifier struct {
	// TrustFirstUse accepts a presented session token when none is stored
	// yet for the session. Weak by design; keep it behind this flag so it
	// can be tightened without touching the verification flow.
	trustFirstUse bool
	logger        *zerolog.Logger
}

func NewVerifier(trustFirstUse bool, logger *zerolog.Logger) *Verifier {
	return &Verifier{
		trustFirstUse: trustFirstUse,
		logger:        logger,
	}
}

// VerifyReply checks the proof carried by a task reply, in order: signature
// over the reply challenge, then session-token equality. A present-but-invalid
// signature is decided on the spot; it does not fall through to the token.
func (v *Verifier) VerifyReply(publicKey, storedToken string, correlationID uuid.UUID, signature, presentedToken string) bool {

	if signature != "" {
		ok := security.VerifySignature(publicKey, security.ReplyChallenge(correlationID.String()), signature)
		if !ok {
			v.logger.Warn().
				Str("correlation_id", correlationID.String()).
				Msg("task reply signature verification failed")
		}
		return ok
	}

	if presentedToken != "" {
		if storedToken == "" {
			if v.trustFirstUse {
				v.logger.Info().
					Str("correlation_id", correlationID.String()).
					Msg("task reply accepted on trust-on-first-use token")
				return true
			}
			v.logger.Warn().
				Str("correlation_id", correlationID.String()).
				Msg("task reply token presented but none stored; trust-on-first-use disabled")
			return false
		}

		if subtle.ConstantTimeCompare([]byte(storedToken), []byte(presentedToken)) == 1 {
			return true
		}
		v.logger.Warn().
			Str("correlation_id", correlationID.String()).
			Msg("task reply session token mismatch")
		return false
	}

	v.logger.Warn().
		Str("correlation_id", correlationID.String()).
		Msg("task reply carried no proof of identity")
	return false
}
