// Package services – AccessService
//
// AccessService answers the authorization questions the gateway and the
// signaling coordinator ask before acting: is this operator still a member,
// is this widget embedded on an allowed host, and does this conversation
// belong to the session's channel.
package services

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/repo"
)

// AccessService performs membership, domain and conversation checks.
type AccessService struct {
	DB *gorm.DB
}

// CheckMembership returns ErrNotMember unless (channelID, userID) has an
// active membership.
func (s *AccessService) CheckMembership(ctx context.Context, channelID, userID string) error {
	ok, err := repo.IsActiveMember(ctx, s.DB, channelID, userID)
	if err != nil {
		return persistErr("check membership", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// CheckDomain verifies the host of origin (an Origin or Referer value)
// against the channel's allow-list. An empty allow-list accepts everything.
// Entries match the host exactly; an entry "*.example.com" also matches any
// subdomain of example.com.
func (s *AccessService) CheckDomain(ctx context.Context, channelID, origin string) error {
	ch, err := repo.GetChannel(ctx, s.DB, channelID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrChannelNotFound
		}
		return persistErr("load channel", err)
	}
	allowed := ch.Domains()
	if len(allowed) == 0 {
		return nil
	}
	host := originHost(origin)
	if host == "" {
		return ErrDomainNotAllowed
	}
	for _, d := range allowed {
		if hostMatches(host, d) {
			return nil
		}
	}
	return ErrDomainNotAllowed
}

// ConversationInChannel loads the conversation and checks it belongs to channelID.
func (s *AccessService) ConversationInChannel(ctx context.Context, conversationID, channelID string) (*domain.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrConversationNotFound
	}
	conv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, persistErr("load conversation", err)
	}
	if conv.ChannelID != channelID {
		return nil, ErrConversationMismatch
	}
	return conv, nil
}

// AuthorizeConversation checks that the actor may read or write the
// conversation: visitors only their bound one, operators any conversation
// on their channel.
func (s *AccessService) AuthorizeConversation(ctx context.Context, a Actor, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrConversationNotFound
	}
	if !a.Operator {
		if conversationID != a.ConversationID {
			return ErrConversationMismatch
		}
		return nil
	}
	_, err := s.ConversationInChannel(ctx, conversationID, a.ChannelID)
	return err
}

// AuthorizeCall checks the actor is a party to {conversationID, channelID}.
// Any mismatch is reported as ErrForbidden; store failures keep their class.
func (s *AccessService) AuthorizeCall(ctx context.Context, a Actor, conversationID, channelID string) error {
	if channelID != a.ChannelID {
		return ErrForbidden
	}
	if !a.Operator && conversationID != a.ConversationID {
		return ErrForbidden
	}
	_, err := s.ConversationInChannel(ctx, conversationID, channelID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPersistence):
		return err
	default:
		return ErrForbidden
	}
}

// originHost extracts the lower-cased host (without port) from an Origin or
// Referer header value.
func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "null" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func hostMatches(host, entry string) bool {
	if rest, ok := strings.CutPrefix(entry, "*."); ok {
		return host == rest || strings.HasSuffix(host, "."+rest)
	}
	return host == entry
}
