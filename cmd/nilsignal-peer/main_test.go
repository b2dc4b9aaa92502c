package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/knadh/nilsignal/internal/client"
)

func TestPoll(t *testing.T) {
	ctx := context.Background()

	n := 0
	err := poll(ctx, time.Millisecond, func() (bool, error) {
		n++
		if n < 3 {
			return false, &client.Error{Status: 400, Msg: "answer not found"}
		}
		return true, nil
	})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 attempts and no error, got %d: %v", n, err)
	}

	errBad := &client.Error{Status: 400, Msg: "try again!"}
	err = poll(ctx, time.Millisecond, func() (bool, error) { return false, errBad })
	if !errors.Is(err, errBad) {
		t.Fatalf("expected the non-retryable error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = poll(ctx, time.Millisecond, func() (bool, error) {
		return false, &client.Error{Status: 400, Msg: "offer not found"}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
}
