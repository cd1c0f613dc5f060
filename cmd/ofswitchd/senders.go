package main

import (
	"sync"

	of "github.com/ofgrid/datapath"
	"github.com/ofgrid/datapath/pipeline"
)

// senderRegistry tracks the of.Remote attached to every live
// controller connection, keyed by the connection's remote address
// (the only handle a request carries back to its originating
// connection; see of.Request.Addr). It is the concrete
// pipeline.Datapath.Senders() collaborator (spec.md section 3, 4.7).
type senderRegistry struct {
	mu      sync.RWMutex
	remotes map[string]*of.Remote
}

func newSenderRegistry() *senderRegistry {
	return &senderRegistry{remotes: make(map[string]*of.Remote)}
}

// Attach registers conn, called from Server.ConnState on StateNew.
func (s *senderRegistry) Attach(conn of.Conn) *of.Remote {
	remote := of.NewRemote(conn)

	s.mu.Lock()
	s.remotes[conn.RemoteAddr().String()] = remote
	s.mu.Unlock()

	return remote
}

// Detach forgets conn, called from Server.ConnState on StateClosed.
func (s *senderRegistry) Detach(conn of.Conn) {
	s.mu.Lock()
	delete(s.remotes, conn.RemoteAddr().String())
	s.mu.Unlock()
}

// Lookup returns the Remote registered for addr, if any.
func (s *senderRegistry) Lookup(addr string) (*of.Remote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.remotes[addr]
	return r, ok
}

// Senders implements pipeline.Datapath.Senders.
func (s *senderRegistry) Senders() []pipeline.Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pipeline.Sender, 0, len(s.remotes))
	for _, r := range s.remotes {
		out = append(out, r)
	}
	return out
}
