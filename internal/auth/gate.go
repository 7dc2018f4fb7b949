package auth

import (
	"net/http"
	"strings"
)

const (
	TokenCookie = "token"
	TokenQuery  = "token"
)

// Identity is the principal bound to a connection at handshake time. It never
// changes for the lifetime of the connection.
type Identity struct {
	UserID   string
	Username string
}

// Gate admits or refuses connection attempts before any room logic runs.
type Gate struct {
	tokens *TokenService
}

func NewGate(tokens *TokenService) *Gate {
	return &Gate{tokens: tokens}
}

// Authenticate verifies the bearer credential carried by the handshake
// request. It returns ErrNoCredential or ErrInvalidCredential on refusal.
func (g *Gate) Authenticate(r *http.Request) (*Identity, error) {
	credential := CredentialFromRequest(r)
	if credential == "" {
		return nil, ErrNoCredential
	}

	claims, err := g.tokens.ValidateToken(credential)
	if err != nil {
		return nil, err
	}

	return &Identity{UserID: claims.Identity(), Username: claims.Username}, nil
}

// CredentialFromRequest looks at the Authorization header, then the token
// query parameter, then the token cookie.
func CredentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get(TokenQuery)); token != "" {
		return token
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}
