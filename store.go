package lavalink

import "sync"

// PlayerStore is the guild-to-player registry. It owns creation, lookup and
// removal only; routing and handshake logic live in the manager. The store
// is a plain composed map rather than an extendable collection on purpose.
type PlayerStore struct {
	mu      sync.RWMutex
	factory PlayerFactory
	players map[string]*Player
}

func newPlayerStore(factory PlayerFactory) *PlayerStore {
	return &PlayerStore{
		factory: factory,
		players: make(map[string]*Player),
	}
}

// Get looks up the player for a guild.
func (s *PlayerStore) Get(guildID string) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[guildID]
	return p, ok
}

// Add constructs a player through the factory and registers it. If a player
// already exists for the guild it is returned unchanged.
func (s *PlayerStore) Add(node *Node, guildID, channelID string) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[guildID]; ok {
		return p
	}
	p := s.factory(node, guildID, channelID)
	s.players[guildID] = p
	return p
}

// Insert registers a pre-built player, for applications that construct their
// own instead of going through the factory. An existing entry for the same
// guild is returned unchanged.
func (s *PlayerStore) Insert(p *Player) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.players[p.GuildID()]; ok {
		return existing
	}
	s.players[p.GuildID()] = p
	return p
}

// Remove deletes the player for a guild, reporting whether one existed.
func (s *PlayerStore) Remove(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[guildID]; !ok {
		return false
	}
	delete(s.players, guildID)
	return true
}

// Len returns the number of registered players.
func (s *PlayerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Each calls fn for every registered player.
func (s *PlayerStore) Each(fn func(*Player)) {
	s.mu.RLock()
	players := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	s.mu.RUnlock()
	for _, p := range players {
		fn(p)
	}
}
