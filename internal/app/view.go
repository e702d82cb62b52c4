package app

import "nostr-lists/internal/lists"

// Level classifies a status line
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

// View receives everything the application shows the user
type View interface {
	Status(level Level, message string)
	Lists(summaries []lists.Summary)
	Revision(rev *lists.Revision)
	SignedEvent(data []byte)
}
