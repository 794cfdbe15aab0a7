package security

import (
	"time"
	"watchpost/config"
	"watchpost/pkg/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims identify one subscribed agent tab. The token is opaque to the
// agent; it only echoes it back as proof on resume and task replies.
type SessionClaims struct {
	TabID string `json:"tab"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret   string
	tokenTTL time.Duration
}

func NewTokenService(authCfg *config.AuthConfig) *TokenService {
	return &TokenService{
		secret:   authCfg.Secret,
		tokenTTL: authCfg.TokenTTL,
	}
}

func (ts *TokenService) GenerateSessionToken(agentID uuid.UUID, tabID string) (string, error) {
	now := time.Now()

	claims := SessionClaims{
		TabID: tabID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(ts.secret))
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

func (ts *TokenService) ValidateSessionToken(sessionToken string) (*SessionClaims, error) {
	const op string = "service.token.validate_session_token"

	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(
		sessionToken,
		claims,
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(ts.secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)

	if err != nil || !token.Valid {
		return nil, &apperror.Error{
			Kind:    apperror.Unauthorised,
			Op:      op,
			Message: "invalid session token",
		}
	}

	return claims, nil
}
