// Package social describes the platform's party/friend client as the bot
// sees it: snapshot records, the events it pushes, and the imperative calls
// the bot makes in response. The client itself lives behind this boundary.
package social

import (
	"context"

	"github.com/Southclaws/opt"
)

// Privacy is the party join policy.
type Privacy string

const (
	PrivacyPublic      Privacy = "Public"
	PrivacyFriendsOnly Privacy = "FriendsOnly"
	PrivacyPrivate     Privacy = "Private"
)

// Cosmetic slots the bot keeps applied.
type CosmeticSlot string

const (
	SlotOutfit   CosmeticSlot = "outfit"
	SlotBackpack CosmeticSlot = "backpack"
	SlotEmote    CosmeticSlot = "emote"
)

// Member is a snapshot of one party member.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsLeader    bool   `json:"isLeader"`
	IsReady     bool   `json:"isReady"`
}

// Party is a snapshot of the bot's party. Members never contains the bot
// itself; Self does. Size counts the bot, so Size == len(Members)+1 once the
// platform has settled.
type Party struct {
	ID      string   `json:"id"`
	Size    int      `json:"size"`
	Privacy Privacy  `json:"privacy"`
	State   string   `json:"state"`
	Bucket  string   `json:"bucket,omitempty"`
	Region  string   `json:"region,omitempty"`
	Self    Member   `json:"self"`
	Members []Member `json:"members"`
}

// Leader returns the party leader, which may be the bot itself.
func (p Party) Leader() (Member, bool) {
	if p.Self.IsLeader {
		return p.Self, true
	}
	for _, m := range p.Members {
		if m.IsLeader {
			return m, true
		}
	}
	return Member{}, false
}

// FindMember looks up a member other than the bot by id.
func (p Party) FindMember(id string) (Member, bool) {
	for _, m := range p.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Event is one of the typed records below.
type Event interface {
	eventName() string
}

type PartyUpdated struct{ Party Party }

type MemberUpdated struct{ Member Member }

type MemberJoined struct{ Member Member }

type MemberLeft struct{ Member Member }

type FriendRequest struct {
	AccountID   string
	DisplayName string
}

type PartyInvite struct {
	InviteID string
	PartyID  string
	Sender   Member
}

func (PartyUpdated) eventName() string  { return "party:updated" }
func (MemberUpdated) eventName() string { return "party:member:updated" }
func (MemberJoined) eventName() string  { return "party:member:joined" }
func (MemberLeft) eventName() string    { return "party:member:left" }
func (FriendRequest) eventName() string { return "friend:request" }
func (PartyInvite) eventName() string   { return "party:invite" }

// EventName returns the platform name for ev.
func EventName(ev Event) string { return ev.eventName() }

// Client is every call the bot makes against the platform. Each call may
// fail; callers log and carry on.
type Client interface {
	SelfID() string
	SelfDisplayName() string
	AccessToken(ctx context.Context) (string, error)

	// Party is the client's cached view; empty when the bot holds no
	// party reference.
	Party() opt.Optional[Party]
	FetchParty(ctx context.Context) (Party, error)
	FetchSelf(ctx context.Context) (Member, error)

	SetReadiness(ctx context.Context, ready bool) error
	Promote(ctx context.Context, memberID string) error
	SetPrivacy(ctx context.Context, privacy Privacy) error
	SetStatus(ctx context.Context, text, onlineType string) error
	SendChat(ctx context.Context, text string) error
	LeaveParty(ctx context.Context) error
	PatchMeta(ctx context.Context, key string, value any) error
	SetCosmetic(ctx context.Context, slot CosmeticSlot, id string) error

	AcceptFriend(ctx context.Context, accountID string) error
	DeclineFriend(ctx context.Context, accountID string) error
	AcceptInvite(ctx context.Context, inviteID string) error
	DeclineInvite(ctx context.Context, inviteID string) error

	TransportConnected() bool
	DisconnectTransport() error

	Events() <-chan Event
}
