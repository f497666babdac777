package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quiz.db")
	s, err := Open(context.Background(), DriverSQLite, path, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, openSQLite(t))
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	ctx := context.Background()
	s, err := Open(ctx, DriverPostgres, dsn, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for _, table := range []string{"quiz_attempts", "users", "questions"} {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("clearing %s: %v", table, err)
		}
	}
	storetest.Run(t, s)
}

func TestConcurrentUpsertSameEmail(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.UpsertUser(ctx, models.UserInput{Name: "Ada", Email: "ada@example.com"})
			if err != nil {
				t.Errorf("UpsertUser: %v", err)
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("one email produced several ids: %v", ids)
		}
	}
	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("users: n=%d err=%v", len(users), err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", "", logger.Nop()); err == nil {
		t.Fatal("expected an error")
	}
}
