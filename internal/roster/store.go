// Package roster tracks the peers known to this session, keyed by public ID.
// Entries are upserted from presence envelopes. A learned agreement key is
// never forgotten, even after the peer goes offline, because decrypting DM
// history requires it.
package roster

import (
	"sync"

	"humanity-chat/client-core/internal/wire"
)

type Peer struct {
	PublicID     string
	DisplayName  string
	Role         string
	AgreementKey string
	Online       bool
}

type Store struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewStore() *Store {
	return &Store{peers: make(map[string]Peer)}
}

// ApplyPeerList replaces the online view with the relay's current roster.
// Everyone absent from the list is marked offline, not deleted.
func (s *Store) ApplyPeerList(peers []wire.PeerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	online := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		online[p.PublicKey] = struct{}{}
		s.upsertLocked(p.PublicKey, p.DisplayName, p.Role, p.ECDHPublic, true)
	}
	for id, p := range s.peers {
		if _, ok := online[id]; !ok && p.Online {
			p.Online = false
			s.peers[id] = p
		}
	}
}

// ApplyFullUserList merges the registered-user view (online and offline).
func (s *Store) ApplyFullUserList(users []wire.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.upsertLocked(u.PublicKey, u.Name, u.Role, u.ECDHPublic, u.Online)
	}
}

func (s *Store) ApplyJoined(msg wire.PeerJoined) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(msg.PublicKey, msg.DisplayName, msg.Role, "", true)
}

func (s *Store) ApplyLeft(publicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[publicID]; ok {
		p.Online = false
		s.peers[publicID] = p
	}
}

func (s *Store) upsertLocked(publicID, name, role, agreementKey string, online bool) {
	if publicID == "" {
		return
	}
	p := s.peers[publicID]
	p.PublicID = publicID
	if name != "" {
		p.DisplayName = name
	}
	if role != "" {
		p.Role = role
	}
	if agreementKey != "" {
		p.AgreementKey = agreementKey
	}
	p.Online = online
	s.peers[publicID] = p
}

func (s *Store) Get(publicID string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[publicID]
	return p, ok
}

// AgreementKey returns the peer's published key, or "" when unknown.
func (s *Store) AgreementKey(publicID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[publicID].AgreementKey
}

func (s *Store) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}
