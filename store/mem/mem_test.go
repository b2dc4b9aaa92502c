package mem

import (
	"errors"
	"testing"
	"time"

	"github.com/knadh/nilsignal/store"
	"github.com/knadh/nilsignal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		m := New(Config{})
		t.Cleanup(m.Close)
		return m
	})
}

func TestCleanup(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	now := time.Now()
	if err := m.CreateChannel("old", now.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateChannel("new", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := m.SetOffer("partial", "o"); err != nil {
		t.Fatal(err)
	}

	if n := m.Cleanup(now); n != 1 {
		t.Fatalf("expected 1 channel reaped, got %d", n)
	}
	if _, err := m.GetChannel("old"); !errors.Is(err, store.ErrChannelNotFound) {
		t.Fatalf("expired channel wasn't reaped: %v", err)
	}
	for _, id := range []string{"new", "partial"} {
		if _, err := m.GetChannel(id); err != nil {
			t.Fatalf("%s was reaped: %v", id, err)
		}
	}

	// An expired ID can be reused.
	if err := m.CreateChannel("old", now.Add(time.Minute)); err != nil {
		t.Fatalf("error recreating reaped channel: %v", err)
	}
}

func TestReaper(t *testing.T) {
	m := New(Config{CleanupInterval: 10 * time.Millisecond})
	defer m.Close()

	if err := m.CreateChannel("c1", time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.GetChannel("c1"); errors.Is(err, store.ErrChannelNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reaper didn't remove the expired channel")
}

func TestSnapshotIsolation(t *testing.T) {
	m := New(Config{})
	defer m.Close()

	if err := m.AppendCandidate("c1", []byte(`"a"`)); err != nil {
		t.Fatal(err)
	}
	snap, ver := m.Snapshot()
	if ver != m.Version() {
		t.Fatalf("version mismatch %d != %d", ver, m.Version())
	}

	if err := m.AppendCandidate("c1", []byte(`"b"`)); err != nil {
		t.Fatal(err)
	}
	if len(snap["c1"].Candidates) != 1 {
		t.Fatalf("snapshot changed with the store: %+v", snap["c1"])
	}
	if m.Version() == ver {
		t.Fatal("version didn't change on write")
	}
}
