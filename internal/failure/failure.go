// Package failure holds the closed set of error kinds the bot distinguishes
// and the single adapter every event handler uses to report them.
package failure

import (
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/lobbybot/internal/notify"
)

// Error kinds. None of them is fatal to the process.
const (
	// Transport covers unreachable hosts, timeouts and broken streams.
	Transport ftag.Kind = "TRANSPORT"
	// RemoteRejected covers non-2xx replies and in-band error payloads.
	RemoteRejected ftag.Kind = "REMOTE_REJECTED"
	// Parse covers malformed response bodies and messages.
	Parse ftag.Kind = "PARSE"
	// StateInconsistency covers a missing party or member reference
	// where one was expected.
	StateInconsistency ftag.Kind = "STATE_INCONSISTENCY"
)

// Wrap tags err with kind and a short message.
func Wrap(err error, kind ftag.Kind, msg string) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(err, fmsg.With(msg), ftag.With(kind))
}

// New creates a tagged error without an underlying cause.
func New(kind ftag.Kind, format string, args ...any) error {
	return fault.Wrap(fault.New(fmt.Sprintf(format, args...)), ftag.With(kind))
}

// KindOf returns the kind attached to err, or "UNKNOWN".
func KindOf(err error) ftag.Kind {
	if err == nil {
		return ""
	}
	switch k := ftag.Get(err); k {
	case Transport, RemoteRejected, Parse, StateInconsistency:
		return k
	}
	return "UNKNOWN"
}

// Is reports whether err carries kind.
func Is(err error, kind ftag.Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Report logs err with its kind and, when notifier is non-nil, forwards a
// short message to the notification sink. It never fails or blocks.
func Report(logger logrus.FieldLogger, n notify.Notifier, title string, err error) {
	if err == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"kind":  KindOf(err),
		"error": err,
	}).Error(title)

	if n != nil {
		n.Log(title, err.Error(), notify.ColorError)
	}
}
