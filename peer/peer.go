// Package peer models the kinds of addressable peers and builds the
// references used to target them in requests.
package peer

import (
	"errors"
	"fmt"
)

// Kind is the peer kind stored in the peer cache.
type Kind int

const (
	KindUser Kind = iota + 1
	KindBot
	KindGroup
	KindChannel
	KindSupergroup
)

// ErrUnknownKind is returned when a stored kind string is not recognized.
var ErrUnknownKind = errors.New("unknown peer kind")

var kindNames = map[Kind]string{
	KindUser:       "user",
	KindBot:        "bot",
	KindGroup:      "group",
	KindChannel:    "channel",
	KindSupergroup: "supergroup",
}

// String returns the name stored in the type column.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a stored name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// channelIDBase is subtracted from marked channel ids.
const channelIDBase = -1000000000000

// Ref is an addressable peer reference.
type Ref interface {
	// PeerID is the marked id: positive for users, negative for chats and
	// channels.
	PeerID() int64
	isRef()
}

// UserRef addresses a user or bot.
type UserRef struct {
	UserID     int64
	AccessHash int64
}

// ChatRef addresses a basic group.
type ChatRef struct {
	ChatID int64
}

// ChannelRef addresses a channel or supergroup.
type ChannelRef struct {
	ChannelID  int64
	AccessHash int64
}

func (r UserRef) PeerID() int64    { return r.UserID }
func (r ChatRef) PeerID() int64    { return -r.ChatID }
func (r ChannelRef) PeerID() int64 { return channelIDBase - r.ChannelID }

func (UserRef) isRef()    {}
func (ChatRef) isRef()    {}
func (ChannelRef) isRef() {}

// NewRef builds the reference for a cached peer. id is the marked id as
// stored in the peer cache.
func NewRef(id, accessHash int64, kind Kind) (Ref, error) {
	switch kind {
	case KindUser, KindBot:
		return UserRef{UserID: id, AccessHash: accessHash}, nil
	case KindGroup:
		return ChatRef{ChatID: -id}, nil
	case KindChannel, KindSupergroup:
		return ChannelRef{ChannelID: ChannelID(id), AccessHash: accessHash}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
}

// ChannelID converts a marked channel id into the bare channel id.
func ChannelID(markedID int64) int64 {
	return channelIDBase - markedID
}

// MarkedChannelID is the inverse of ChannelID.
func MarkedChannelID(channelID int64) int64 {
	return channelIDBase - channelID
}
