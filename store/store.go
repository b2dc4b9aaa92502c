package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Store represents a backend store of signaling channels.
type Store interface {
	// CreateChannel inserts a new channel only if no channel with the
	// same ID exists. Returns ErrAlreadyExists otherwise.
	CreateChannel(id string, expireAt time.Time) error

	// SetOffer sets a channel's offer unconditionally.
	SetOffer(id, offer string) error

	// AppendCandidate atomically appends a candidate to a channel.
	AppendCandidate(id string, candidate json.RawMessage) error

	// SetAnswerIfAbsent sets a channel's answer only if it doesn't have one.
	// Returns ErrAlreadyExists otherwise.
	SetAnswerIfAbsent(id, answer string) error

	// GetChannel returns a channel or ErrChannelNotFound.
	GetChannel(id string) (Channel, error)
}

// Channel represents the properties of a signaling channel in the store.
type Channel struct {
	ID         string            `json:"channel_id"`
	ExpireTime time.Time         `json:"expire_time"`
	Offer      *string           `json:"offer,omitempty"`
	Answer     *string           `json:"answer,omitempty"`
	Candidates []json.RawMessage `json:"candidate,omitempty"`
}

// Expired checks if the channel has an expiry time that has passed.
// Partial records created by upserts have no expiry.
func (c Channel) Expired(now time.Time) bool {
	return !c.ExpireTime.IsZero() && c.ExpireTime.Before(now)
}

var (
	// ErrChannelNotFound indicates that the requested channel was not found.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrAlreadyExists indicates that a conditional write found an existing value.
	ErrAlreadyExists = errors.New("already exists")
)
