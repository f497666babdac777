package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
	"github.com/backsoul/leadquiz/pkg/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, store.NewMemory())
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("dial tcp: connection refused")
	s := store.Unavailable{Reason: cause}

	if err := s.Ping(ctx); !errors.Is(err, store.ErrUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := s.UpsertUser(ctx, models.UserInput{Email: "a@b.co"}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("UpsertUser: %v", err)
	}
	if _, err := s.ListAttempts(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("ListAttempts: %v", err)
	}
	if err := s.SetStarred(ctx, "a1", true); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("SetStarred: %v", err)
	}
	if err := (store.Unavailable{}).SaveQuestions(ctx, nil); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("SaveQuestions: %v", err)
	}
}
