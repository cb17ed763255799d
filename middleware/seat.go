package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"livequiz/services"
)

const seatKey = "seat"

// SeatVerifier checks a seat token.
type SeatVerifier interface {
	Verify(token string) (*services.Seat, error)
}

// SeatAuth requires a seat token for the game named by the :code param,
// taken from the Authorization header or the token query parameter.
func SeatAuth(verifier SeatVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Seat token required"})
			return
		}

		seat, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected seat token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid seat token"})
			return
		}
		if code := c.Param("code"); code != "" && code != seat.GameID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Seat token is for another game"})
			return
		}

		c.Set(seatKey, seat)
		c.Next()
	}
}

// SeatFrom returns the seat stored by SeatAuth.
func SeatFrom(c *gin.Context) (*services.Seat, bool) {
	v, ok := c.Get(seatKey)
	if !ok {
		return nil, false
	}
	seat, ok := v.(*services.Seat)
	return seat, ok
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
