package presence

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Friend is one friend record held by a StaticProvider.
type Friend struct {
	ID     FriendID          `yaml:"id"`
	Name   string            `yaml:"name"`
	Avatar AvatarHandle      `yaml:"avatar"`
	AppID  uint64            `yaml:"app_id"`
	Status map[string]string `yaml:"status"`
}

type fixtureFile struct {
	Available bool     `yaml:"available"`
	Friends   []Friend `yaml:"friends"`
}

// StaticProvider is an in-memory Provider. It backs the fixture file used for
// local development and is safe for concurrent use.
type StaticProvider struct {
	mu        sync.RWMutex
	available bool
	order     []FriendID
	friends   map[FriendID]Friend
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates an available provider holding friends in the given order.
func NewStaticProvider(friends ...Friend) *StaticProvider {
	s := &StaticProvider{available: true}
	s.Set(friends...)
	return s
}

// LoadFixture reads a YAML friend fixture into a StaticProvider.
//
// Precondition: path must point to a YAML document with "available" and "friends" keys.
// Postcondition: Returns a populated provider or a non-nil error.
func LoadFixture(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presence fixture %s: %w", path, err)
	}
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing presence fixture %s: %w", path, err)
	}
	s := NewStaticProvider(f.Friends...)
	s.SetAvailable(f.Available)
	return s, nil
}

// Set replaces the friend list.
func (s *StaticProvider) Set(friends ...Friend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = make([]FriendID, 0, len(friends))
	s.friends = make(map[FriendID]Friend, len(friends))
	for _, f := range friends {
		if _, dup := s.friends[f.ID]; !dup {
			s.order = append(s.order, f.ID)
		}
		s.friends[f.ID] = f
	}
}

// SetAvailable toggles provider availability.
func (s *StaticProvider) SetAvailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = v
}

// Available implements Provider.
func (s *StaticProvider) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// ImmediateFriends implements Provider.
func (s *StaticProvider) ImmediateFriends() []FriendID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FriendID, len(s.order))
	copy(out, s.order)
	return out
}

// RunningApp implements Provider.
func (s *StaticProvider) RunningApp(id FriendID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friends[id].AppID
}

// Status implements Provider.
func (s *StaticProvider) Status(id FriendID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.friends[id].Status[key]
	return v, ok
}

// DisplayName implements Provider.
func (s *StaticProvider) DisplayName(id FriendID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friends[id].Name
}

// Avatar implements Provider.
func (s *StaticProvider) Avatar(id FriendID) AvatarHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friends[id].Avatar
}
