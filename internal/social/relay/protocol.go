package relay

import (
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/lobbybot/internal/social"
)

// Frame types exchanged with the relay.
const (
	frameHello  = "hello"
	frameCall   = "call"
	frameResult = "result"
	frameEvent  = "event"
)

// Relay-side event names that are not social events.
const eventTransport = "transport"

// Frame is the single envelope for every message in both directions.
type Frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Op    string          `json:"op,omitempty"`
	Event string          `json:"event,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Hello is the first frame the relay sends after the handshake.
type Hello struct {
	SelfID      string        `json:"selfId"`
	DisplayName string        `json:"displayName"`
	Connected   bool          `json:"connected"`
	Party       *social.Party `json:"party,omitempty"`
}

// EventData is the payload of an event frame. Which fields are set depends
// on the event.
type EventData struct {
	Party       *social.Party  `json:"party,omitempty"`
	Member      *social.Member `json:"member,omitempty"`
	AccountID   string         `json:"accountId,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	InviteID    string         `json:"inviteId,omitempty"`
	PartyID     string         `json:"partyId,omitempty"`
	Connected   *bool          `json:"connected,omitempty"`
}

// decodeEvent converts an event frame into a social.Event.
func decodeEvent(name string, d EventData) (social.Event, error) {
	switch name {
	case "party:updated":
		if d.Party == nil {
			return nil, fmt.Errorf("%s without party", name)
		}
		return social.PartyUpdated{Party: *d.Party}, nil
	case "party:member:updated", "party:member:joined", "party:member:left":
		if d.Member == nil {
			return nil, fmt.Errorf("%s without member", name)
		}
		switch name {
		case "party:member:updated":
			return social.MemberUpdated{Member: *d.Member}, nil
		case "party:member:joined":
			return social.MemberJoined{Member: *d.Member}, nil
		}
		return social.MemberLeft{Member: *d.Member}, nil
	case "friend:request":
		return social.FriendRequest{AccountID: d.AccountID, DisplayName: d.DisplayName}, nil
	case "party:invite":
		inv := social.PartyInvite{InviteID: d.InviteID, PartyID: d.PartyID}
		if d.Member != nil {
			inv.Sender = *d.Member
		}
		return inv, nil
	}
	return nil, fmt.Errorf("unknown event %q", name)
}
