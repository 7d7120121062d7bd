package session

import "time"

// Speaker tags who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Valid reports whether s is a known speaker tag.
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Turn is one tagged message of a conversation.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Session is a user's bounded history plus the time it was last used.
type Session struct {
	UserID     string
	Messages   []Turn
	LastActive time.Time
}

// Clone returns a deep copy that shares no state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		UserID:     s.UserID,
		Messages:   cloneTurns(s.Messages),
		LastActive: s.LastActive,
	}
}

// IdleFor returns how long the session has been inactive at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActive)
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// lastN returns a copy of the newest max turns in their original order.
func lastN(turns []Turn, max int) []Turn {
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	return cloneTurns(turns)
}
