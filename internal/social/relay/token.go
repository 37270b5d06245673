// internal/social/relay/token.go
package relay

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds how long a relay handshake token stays valid.
const DefaultTokenTTL = 5 * time.Minute

// SignToken creates an HS256 token with "sub" = botID. A zero ttl means
// no exp claim.
func SignToken(secret []byte, botID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("relay secret is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": botID,
		"iat": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
