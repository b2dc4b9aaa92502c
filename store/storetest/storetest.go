// Package storetest provides a conformance suite that every store.Store
// implementation is tested against.
package storetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/knadh/nilsignal/store"
)

// Run runs the conformance suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("create", func(t *testing.T) { testCreate(t, newStore(t)) })
	t.Run("offer", func(t *testing.T) { testOffer(t, newStore(t)) })
	t.Run("candidates", func(t *testing.T) { testCandidates(t, newStore(t)) })
	t.Run("concurrent candidates", func(t *testing.T) { testConcurrentCandidates(t, newStore(t)) })
	t.Run("answer", func(t *testing.T) { testAnswer(t, newStore(t)) })
	t.Run("concurrent answers", func(t *testing.T) { testConcurrentAnswers(t, newStore(t)) })
	t.Run("partial records", func(t *testing.T) { testPartial(t, newStore(t)) })
}

func testCreate(t *testing.T, s store.Store) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	if err := s.CreateChannel("c1", exp); err != nil {
		t.Fatalf("error creating channel: %v", err)
	}
	if err := s.CreateChannel("c1", exp); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	c, err := s.GetChannel("c1")
	if err != nil {
		t.Fatalf("error getting channel: %v", err)
	}
	if c.ID != "c1" || !c.ExpireTime.Equal(exp) {
		t.Fatalf("unexpected channel: %+v", c)
	}
	if c.Offer != nil || c.Answer != nil || len(c.Candidates) != 0 {
		t.Fatalf("new channel isn't empty: %+v", c)
	}

	if _, err := s.GetChannel("nope"); !errors.Is(err, store.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func testOffer(t *testing.T, s store.Store) {
	mustCreate(t, s, "c1")
	for _, o := range []string{"first", "second"} {
		if err := s.SetOffer("c1", o); err != nil {
			t.Fatalf("error setting offer: %v", err)
		}
	}
	c, err := s.GetChannel("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Offer == nil || *c.Offer != "second" {
		t.Fatalf("expected overwritten offer, got %+v", c.Offer)
	}
}

func testCandidates(t *testing.T, s store.Store) {
	mustCreate(t, s, "c1")
	in := []string{`"a"`, `{"candidate":"b"}`, `3`}
	for _, c := range in {
		if err := s.AppendCandidate("c1", json.RawMessage(c)); err != nil {
			t.Fatalf("error appending candidate: %v", err)
		}
	}

	c, err := s.GetChannel("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Candidates) != len(in) {
		t.Fatalf("expected %d candidates, got %d", len(in), len(c.Candidates))
	}
	for i, v := range in {
		if string(c.Candidates[i]) != v {
			t.Fatalf("candidate %d: expected %s, got %s", i, v, c.Candidates[i])
		}
	}
}

func testConcurrentCandidates(t *testing.T, s store.Store) {
	mustCreate(t, s, "c1")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AppendCandidate("c1", json.RawMessage(fmt.Sprintf("%d", i))); err != nil {
				t.Errorf("error appending candidate %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	c, err := s.GetChannel("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Candidates) != n {
		t.Fatalf("expected %d candidates, got %d", n, len(c.Candidates))
	}
}

func testAnswer(t *testing.T, s store.Store) {
	mustCreate(t, s, "c1")
	if err := s.SetAnswerIfAbsent("c1", "a1"); err != nil {
		t.Fatalf("error setting answer: %v", err)
	}
	if err := s.SetAnswerIfAbsent("c1", "a2"); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	c, err := s.GetChannel("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Answer == nil || *c.Answer != "a1" {
		t.Fatalf("expected first answer, got %+v", c.Answer)
	}
}

func testConcurrentAnswers(t *testing.T, s store.Store) {
	mustCreate(t, s, "c1")

	const n = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner string
		wins   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ans := fmt.Sprintf("answer-%d", i)
			err := s.SetAnswerIfAbsent("c1", ans)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
				winner = ans
			case errors.Is(err, store.ErrAlreadyExists):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winning answer, got %d", wins)
	}
	c, err := s.GetChannel("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Answer == nil || *c.Answer != winner {
		t.Fatalf("expected answer %q, got %+v", winner, c.Answer)
	}
}

// Writes to channels that were never created create partial records
// without an expiry.
func testPartial(t *testing.T, s store.Store) {
	if err := s.SetOffer("p1", "o"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendCandidate("p2", json.RawMessage(`"x"`)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnswerIfAbsent("p3", "a"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		c, err := s.GetChannel(id)
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if c.ID != id || !c.ExpireTime.IsZero() {
			t.Fatalf("unexpected partial record: %+v", c)
		}
	}

	// A partial record blocks creation of a channel with the same ID.
	if err := s.CreateChannel("p1", time.Now().Add(time.Minute)); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func mustCreate(t *testing.T, s store.Store, id string) {
	t.Helper()
	if err := s.CreateChannel(id, time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("error creating channel %s: %v", id, err)
	}
}
