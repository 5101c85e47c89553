// Package auth mints and verifies the short-lived session credentials that
// bind a socket connection to a channel. Widget credentials carry
// {channelId, conversationId, visitorId}; operator credentials carry
// {channelId, userId, role}. Tokens are HS256 JWTs.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential kinds. A widget token is rejected by the operator gateway and
// vice versa.
const (
	KindWidget   = "widget"
	KindOperator = "operator"
)

// RoleVisitor is the role carried by every widget credential.
const RoleVisitor = "visitor"

// ErrInvalidToken covers bad signatures, expiry, wrong issuer and malformed claims.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT payload for both credential kinds.
type Claims struct {
	Kind           string `json:"kind"`
	ChannelID      string `json:"channelId"`
	ConversationID string `json:"conversationId,omitempty"`
	VisitorID      string `json:"visitorId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. ttl bounds every token it mints.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL reports the lifetime of minted tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// IssueWidget mints a visitor credential for one conversation.
func (i *Issuer) IssueWidget(channelID, conversationID, visitorID string) (string, time.Time, error) {
	if channelID == "" || conversationID == "" || visitorID == "" {
		return "", time.Time{}, errors.New("auth: widget claims require channel, conversation and visitor")
	}
	return i.sign(Claims{
		Kind:           KindWidget,
		ChannelID:      channelID,
		ConversationID: conversationID,
		VisitorID:      visitorID,
		Role:           RoleVisitor,
	}, visitorID)
}

// IssueOperator mints an operator credential for one channel.
func (i *Issuer) IssueOperator(channelID, userID, role string) (string, time.Time, error) {
	if channelID == "" || userID == "" {
		return "", time.Time{}, errors.New("auth: operator claims require channel and user")
	}
	if role == "" {
		role = "agent"
	}
	return i.sign(Claims{
		Kind:      KindOperator,
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
	}, userID)
}

func (i *Issuer) sign(c Claims, subject string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign: %w", err)
	}
	return s, exp, nil
}

// Verify parses the token and checks signature, expiry, issuer and the
// fields required by its kind.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	switch claims.Kind {
	case KindWidget:
		if claims.ChannelID == "" || claims.ConversationID == "" || claims.VisitorID == "" {
			return nil, fmt.Errorf("%w: incomplete widget claims", ErrInvalidToken)
		}
	case KindOperator:
		if claims.ChannelID == "" || claims.UserID == "" {
			return nil, fmt.Errorf("%w: incomplete operator claims", ErrInvalidToken)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, claims.Kind)
	}
	return claims, nil
}

// SubjectID is the visitor id for widget claims and the user id otherwise.
func (c *Claims) SubjectID() string {
	if c.Kind == KindWidget {
		return c.VisitorID
	}
	return c.UserID
}
