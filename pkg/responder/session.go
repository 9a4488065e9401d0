package responder

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jgoldverg/blast/pkg/segment"
)

// Session is the single transfer a responder is serving.
type Session struct {
	ID            uuid.UUID
	Client        net.Addr
	Filename      string
	Store         *segment.Store
	Started       time.Time
	NackRounds    int
	Retransmitted int

	deadline time.Time
}

func newSession(client net.Addr, filename string, store *segment.Store) *Session {
	return &Session{
		ID:       uuid.New(),
		Client:   client,
		Filename: filename,
		Store:    store,
		Started:  time.Now(),
	}
}

// Deadline is when the session expires unless the client speaks up.
func (s *Session) Deadline() time.Time { return s.deadline }

func (s *Session) touch(timeout time.Duration) {
	s.deadline = time.Now().Add(timeout)
}
