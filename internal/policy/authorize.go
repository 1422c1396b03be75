// Package policy decides who may open a gateway connection and what
// leaves the building: JWT admission on the websocket endpoint and PII
// redaction on transcripts forwarded to external backends.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken    = errors.New("policy: missing token")
	ErrInvalidToken    = errors.New("policy: invalid token")
	ErrAgentNotAllowed = errors.New("policy: agent not allowed")
)

// Principal is the identity extracted from an accepted token.
type Principal struct {
	UserID  string
	AgentID string
}

type connClaims struct {
	AgentID string `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

// Authorizer validates HMAC-signed connection tokens. A nil Authorizer
// means authentication is disabled.
type Authorizer struct {
	secret        []byte
	allowedAgents map[string]struct{}
	leeway        time.Duration
}

// NewAuthorizer returns nil when secret is empty, which callers treat as
// auth disabled. allowedAgents empty means any agent id is accepted.
func NewAuthorizer(secret string, allowedAgents []string) *Authorizer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	a := &Authorizer{secret: []byte(secret), leeway: 30 * time.Second}
	if len(allowedAgents) > 0 {
		a.allowedAgents = make(map[string]struct{}, len(allowedAgents))
		for _, id := range allowedAgents {
			if id = strings.TrimSpace(id); id != "" {
				a.allowedAgents[id] = struct{}{}
			}
		}
	}
	return a
}

// Authorize validates a compact JWS and returns the caller's identity.
// The subject claim carries the user id.
func (a *Authorizer) Authorize(token string) (Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	claims := &connClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.leeway))
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if a.allowedAgents != nil {
		if _, ok := a.allowedAgents[claims.AgentID]; !ok {
			return Principal{}, ErrAgentNotAllowed
		}
	}
	return Principal{UserID: claims.Subject, AgentID: claims.AgentID}, nil
}

// MintToken signs a connection token for the given identity. Used by
// tests and provisioning tooling.
func MintToken(secret, userID, agentID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := connClaims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
