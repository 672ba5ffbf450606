package chat

import "time"

// Session is one browser tab lifetime as seen by the relay. A page reload
// starts a new session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}
