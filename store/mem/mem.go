package mem

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/knadh/nilsignal/store"
)

// Config represents the InMemory store config structure.
type Config struct {
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// InMemory represents the in-memory implementation of the Store interface.
type InMemory struct {
	cfg      *Config
	channels map[string]*store.Channel
	mu       sync.Mutex

	// version is incremented on every mutation.
	version uint64
	stop    chan struct{}
	once    sync.Once
}

// New returns a new in-memory store and starts its reaper.
func New(cfg Config) *InMemory {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	m := &InMemory{
		cfg:      &cfg,
		channels: map[string]*store.Channel{},
		stop:     make(chan struct{}),
	}
	go m.watch()
	return m
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(m.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Cleanup(time.Now())
		case <-m.stop:
			return
		}
	}
}

// Close stops the reaper.
func (m *InMemory) Close() {
	m.once.Do(func() { close(m.stop) })
}

// Cleanup removes channels that expired before now and returns the number
// of channels removed.
func (m *InMemory) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, c := range m.channels {
		if c.Expired(now) {
			delete(m.channels, id)
			n++
		}
	}
	if n > 0 {
		m.version++
	}
	return n
}

// CreateChannel adds a channel to the store.
func (m *InMemory) CreateChannel(id string, expireAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[id]; ok {
		return store.ErrAlreadyExists
	}
	m.channels[id] = &store.Channel{ID: id, ExpireTime: expireAt}
	m.version++
	return nil
}

// SetOffer sets the offer on a channel, creating a partial record if
// the channel doesn't exist.
func (m *InMemory) SetOffer(id, offer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsert(id).Offer = &offer
	m.version++
	return nil
}

// AppendCandidate appends a candidate to a channel.
func (m *InMemory) AppendCandidate(id string, candidate json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.upsert(id)
	c.Candidates = append(c.Candidates, append(json.RawMessage(nil), candidate...))
	m.version++
	return nil
}

// SetAnswerIfAbsent sets the answer on a channel if it doesn't have one.
func (m *InMemory) SetAnswerIfAbsent(id, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.upsert(id)
	if c.Answer != nil {
		return store.ErrAlreadyExists
	}
	c.Answer = &answer
	m.version++
	return nil
}

// GetChannel gets a channel from the store.
func (m *InMemory) GetChannel(id string) (store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.channels[id]
	if !ok {
		return store.Channel{}, store.ErrChannelNotFound
	}
	return copyChannel(c), nil
}

// Snapshot returns a copy of all the channels and the store version it
// was taken at.
func (m *InMemory) Snapshot() (map[string]store.Channel, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]store.Channel, len(m.channels))
	for id, c := range m.channels {
		out[id] = copyChannel(c)
	}
	return out, m.version
}

// Restore replaces the contents of the store.
func (m *InMemory) Restore(channels map[string]store.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels = make(map[string]*store.Channel, len(channels))
	for id, c := range channels {
		c := copyChannel(&c)
		m.channels[id] = &c
	}
	m.version++
}

// Version returns the store's mutation counter.
func (m *InMemory) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// upsert returns the channel with the given ID, creating a partial record
// if it doesn't exist. The caller must hold the lock.
func (m *InMemory) upsert(id string) *store.Channel {
	c, ok := m.channels[id]
	if !ok {
		c = &store.Channel{ID: id}
		m.channels[id] = c
	}
	return c
}

func copyChannel(c *store.Channel) store.Channel {
	out := *c
	if c.Candidates != nil {
		out.Candidates = make([]json.RawMessage, len(c.Candidates))
		copy(out.Candidates, c.Candidates)
	}
	return out
}
