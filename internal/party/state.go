// Package party keeps the bot's party consistent with the events the
// social platform delivers, and drives matchmaking when the party queues.
package party

import (
	"github.com/samber/lo"

	"github.com/jason-s-yu/lobbybot/internal/social"
)

// State is the party's lifecycle position as published in party metadata.
type State int

const (
	StateUnknown State = iota
	StateIdle
	StatePreloading
	StateMatchmaking
	StatePostMatchmaking
)

var rawStates = map[string]State{
	"BattleRoyaleView":            StateIdle,
	"BattleRoyalePreloading":      StatePreloading,
	"BattleRoyaleMatchmaking":     StateMatchmaking,
	"BattleRoyalePostMatchmaking": StatePostMatchmaking,
}

// ParseState maps the raw platform string. Anything unrecognized is
// StateUnknown.
func ParseState(raw string) State {
	return rawStates[raw]
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreloading:
		return "preloading"
	case StateMatchmaking:
		return "matchmaking"
	case StatePostMatchmaking:
		return "post-matchmaking"
	}
	return "unknown"
}

// AllReady reports whether every member is ready. It is true for an empty
// party.
func AllReady(members []social.Member) bool {
	return lo.EveryBy(members, func(m social.Member) bool { return m.IsReady })
}
