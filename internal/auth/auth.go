// Package auth guards the admin API's mutating routes with a shared bearer
// token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Token validates bearer tokens against one shared secret. The zero value
// admits every request, for loopback-only development setups.
type Token struct {
	Secret string
}

func (t Token) Enabled() bool {
	return t.Secret != ""
}

func (t Token) Validate(token string) error {
	if !t.Enabled() {
		return nil
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(t.Secret), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header value. Anything else yields "".
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Require rejects requests whose bearer token does not validate.
func Require(t Token) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := t.Validate(BearerToken(c.GetHeader("Authorization"))); err != nil {
			log.Warn().
				Str("path", c.FullPath()).
				Str("client_ip", c.ClientIP()).
				Msg("auth.Require rejected request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
