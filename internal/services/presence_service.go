package services

import (
	"context"
	"time"

	"github.com/tbourn/go-sitechat/internal/presence"
)

// PresenceUpdate is the payload of presence:update.
type PresenceUpdate struct {
	ChannelID      string `json:"channelId"`
	OnlineVisitors int    `json:"onlineVisitors"`
}

// PresenceService tracks online visitors per channel.
type PresenceService struct {
	Store     presence.Store
	Coalescer presence.Coalescer
	TTL       time.Duration
	Now       func() time.Time
}

// Heartbeat refreshes the visitor's TTL key. It returns a non-nil update only
// when the channel's coalescing window allows a broadcast; the caller then
// fans it out to the operator room.
func (s *PresenceService) Heartbeat(ctx context.Context, channelID, visitorID string) (*PresenceUpdate, error) {
	if err := s.Store.Touch(ctx, channelID, visitorID, s.ttl()); err != nil {
		return nil, err
	}
	ok, err := s.Coalescer.Allow(ctx, channelID, s.now())
	if err != nil || !ok {
		return nil, err
	}
	n, err := s.Store.Count(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &PresenceUpdate{ChannelID: channelID, OnlineVisitors: n}, nil
}

// OnlineVisitors returns the distinct live visitor count for the channel.
func (s *PresenceService) OnlineVisitors(ctx context.Context, channelID string) (int, error) {
	return s.Store.Count(ctx, channelID)
}

func (s *PresenceService) ttl() time.Duration {
	if s.TTL <= 0 {
		return 30 * time.Second
	}
	return s.TTL
}

func (s *PresenceService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
