// Package protocol is the versioned message contract between a host (UI) and
// a simulation session. Every message is a JSON object discriminated by "t";
// host and sim messages are disjoint sets.
package protocol

import "encoding/json"

const Version = 1

// Host -> sim message types.
const (
	TypeBoot    = "boot"
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeSetMode = "setMode"
	TypeOffline = "offline"
	TypeAbility = "ability"
)

// Sim -> host message types.
const (
	TypeReady          = "ready"
	TypeTick           = "tick"
	TypeBgCovered      = "bgCovered"
	TypeLog            = "log"
	TypeFatal          = "fatal"
	TypeIntegrityError = "integrityError"
)

// Modes carried by start, setMode and tick.
const (
	ModeForeground = "fg"
	ModeBackground = "bg"
)

// Log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// BaseMessage lets us route raw JSON by discriminator.
type BaseMessage struct {
	T string `json:"t"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
