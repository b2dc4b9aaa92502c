package fs

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"log"
	"os"
	"sync"
	"time"

	"github.com/knadh/nilsignal/store"
	"github.com/knadh/nilsignal/store/mem"
)

// Config represents the file store config structure.
type Config struct {
	Path            string        `koanf:"path"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	SaveInterval    time.Duration `koanf:"save_interval"`
}

// File represents the file implementation of the Store interface. Channels
// live in memory and are periodically written to disk.
type File struct {
	*mem.InMemory

	cfg   *Config
	log   *log.Logger
	mu    sync.Mutex
	saved uint64
	stop  chan struct{}
	done  chan struct{}
}

type snapshot struct {
	Channels map[string]store.Channel `json:"channels"`
}

// New returns a new file store, loading previously saved channels from disk.
func New(cfg Config, l *log.Logger) (*File, error) {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 5 * time.Second
	}
	f := &File{
		InMemory: mem.New(mem.Config{CleanupInterval: cfg.CleanupInterval}),
		cfg:      &cfg,
		log:      l,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := f.load(); err != nil {
		f.InMemory.Close()
		return nil, err
	}
	go f.watch()
	return f, nil
}

// watch periodically saves the store to disk.
func (f *File) watch() {
	defer close(f.done)

	t := time.NewTicker(f.cfg.SaveInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := f.Save(); err != nil {
				f.log.Printf("error writing file %q: %v", f.cfg.Path, err)
			}
		case <-f.stop:
			return
		}
	}
}

// Close stops the background routines and flushes the store to disk.
func (f *File) Close() error {
	select {
	case <-f.stop:
		return nil
	default:
	}
	close(f.stop)
	<-f.done
	f.InMemory.Close()
	return f.Save()
}

// load the data from the file system.
func (f *File) load() error {
	data, err := ioutil.ReadFile(f.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f.Restore(s.Channels)

	f.mu.Lock()
	f.saved = f.Version()
	f.mu.Unlock()
	return nil
}

// Save writes the store to disk if it has changed since the last save.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	channels, ver := f.Snapshot()
	if ver == f.saved {
		return nil
	}

	data, err := json.Marshal(snapshot{Channels: channels})
	if err != nil {
		return err
	}

	// Write to a temp file and rename it into place.
	tmp := f.cfg.Path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.cfg.Path); err != nil {
		return err
	}
	f.saved = ver
	return nil
}
