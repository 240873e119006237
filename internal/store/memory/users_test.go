package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/avieira/authgate/internal/domain/user"
	"github.com/avieira/authgate/internal/security"
)

func TestInsertAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()

	for i := 1; i <= 3; i++ {
		u, err := s.Insert(ctx, Draft{
			Email: fmt.Sprintf("u%d@x.com", i),
			Name:  "U",
			Role:  user.RoleUser,
		})
		if err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		if u.ID != int64(i) {
			t.Fatalf("got id %d, want %d", u.ID, i)
		}
		if u.CreatedAt.IsZero() {
			t.Fatalf("expected CreatedAt to be set")
		}
	}
}

func TestInsertRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()

	if _, err := s.Insert(ctx, Draft{Email: "a@x.com", Name: "A", Role: user.RoleUser}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	_, err := s.Insert(ctx, Draft{Email: "a@x.com", Name: "B", Role: user.RoleUser})
	if !errors.Is(err, ErrEmailAlreadyUsed) {
		t.Fatalf("got %v, want ErrEmailAlreadyUsed", err)
	}

	if s.Len() != 1 {
		t.Fatalf("store holds %d records, want 1", s.Len())
	}
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()

	inserted, err := s.Insert(ctx, Draft{Email: "a@x.com", Name: "A", Role: user.RoleUser})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	byMail, err := s.GetByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if byMail.ID != inserted.ID {
		t.Fatalf("GetByEmail id mismatch: %d vs %d", byMail.ID, inserted.ID)
	}

	byID, err := s.GetByID(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byID.Email != "a@x.com" {
		t.Fatalf("GetByID email mismatch: %q", byID.Email)
	}

	if _, err := s.GetByEmail(ctx, "missing@x.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
	if _, err := s.GetByID(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestParallelInsertsKeepIDsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()

	const n = 50

	ids := make(chan int64, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.Insert(ctx, Draft{
				Email: fmt.Sprintf("p%d@x.com", i),
				Name:  "P",
				Role:  user.RoleUser,
			})
			if err != nil {
				t.Errorf("insert failed: %v", err)
				return
			}
			ids <- u.ID
		}(i)
	}

	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d assigned", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestEnsureAdminUser(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()

	if err := s.EnsureAdminUser(ctx, "admin@example.com", "123456", "Administrator"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	admin, err := s.GetByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("seeded admin not found: %v", err)
	}
	if admin.Role != user.RoleAdmin {
		t.Fatalf("got role %q, want admin", admin.Role)
	}
	if err := security.CheckPassword(admin.PasswordHash, "123456"); err != nil {
		t.Fatalf("seeded password does not verify: %v", err)
	}

	// seeding twice must not duplicate or error
	if err := s.EnsureAdminUser(ctx, "admin@example.com", "123456", "Administrator"); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("store holds %d records after reseed, want 1", s.Len())
	}
}

func TestEnsureAdminUserSkipsWhenUnconfigured(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()

	if err := s.EnsureAdminUser(ctx, "", "", ""); err != nil {
		t.Fatalf("unconfigured seed should be a no-op, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("store holds %d records, want 0", s.Len())
	}
}
