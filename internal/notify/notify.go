// Package notify is the fire-and-forget notification sink used for the
// "[Logs] ..." embeds the bot posts while it runs.
package notify

// Embed colors used across the bot.
const (
	ColorError = 0x880808
	ColorInfo  = 0x00ffff
	ColorWarn  = 0xffa500
)

// Notifier accepts a titled message. Implementations must never block the
// caller and must swallow their own failures.
type Notifier interface {
	Log(title, body string, color int)
}

// Nop discards every notification. Used when logs are disabled.
type Nop struct{}

func (Nop) Log(string, string, int) {}

// Func adapts a plain function to a Notifier.
type Func func(title, body string, color int)

func (f Func) Log(title, body string, color int) { f(title, body, color) }
