package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(time.Hour, nil)
}

func seed(t *testing.T, s *MemoryStore, userID string, turns ...Turn) {
	t.Helper()
	err := s.CreateOrReplace(context.Background(), &ChatState{
		UserID:      userID,
		DisplayName: "Tester",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		History:     turns,
	})
	if err != nil {
		t.Fatalf("seeding state: %v", err)
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	t.Run("missing user returns nil without error", func(t *testing.T) {
		st, err := s.Get(ctx, "unknown")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st != nil {
			t.Errorf("expected nil state, got %+v", st)
		}
	})

	t.Run("returns stored record", func(t *testing.T) {
		seed(t, s, "111", TextTurn(RoleUser, "hello"))

		st, err := s.Get(ctx, "111")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st == nil {
			t.Fatal("expected state, got nil")
		}
		if st.UserID != "111" || len(st.History) != 1 {
			t.Errorf("unexpected state: %+v", st)
		}
	})

	t.Run("returned state is a copy", func(t *testing.T) {
		seed(t, s, "222", TextTurn(RoleUser, "original"))

		st, _ := s.Get(ctx, "222")
		st.History[0].Parts[0].Text = "mutated"

		again, _ := s.Get(ctx, "222")
		if got := again.History[0].TextContent(); got != "original" {
			t.Errorf("store leaked internal slice, got %q", got)
		}
	})
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("fails for missing user", func(t *testing.T) {
		s := newTestStore()
		err := s.Append(ctx, "nobody", TextTurn(RoleUser, "hi"))
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("last element equals appended turn", func(t *testing.T) {
		for n := 0; n < 4; n++ {
			s := newTestStore()
			prior := make([]Turn, n)
			for i := range prior {
				prior[i] = TextTurn(RoleUser, "earlier")
			}
			seed(t, s, "111", prior...)

			turn := TextTurn(RoleAssistant, "newest")
			if err := s.Append(ctx, "111", turn); err != nil {
				t.Fatalf("append with %d prior turns: %v", n, err)
			}

			st, _ := s.Get(ctx, "111")
			if len(st.History) != n+1 {
				t.Fatalf("expected %d turns, got %d", n+1, len(st.History))
			}
			last := st.History[len(st.History)-1]
			if last.Role != RoleAssistant || last.TextContent() != "newest" {
				t.Errorf("last turn mismatch: %+v", last)
			}
		}
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	t.Run("noop for missing user", func(t *testing.T) {
		if err := s.Reset(ctx, "nobody"); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("clears history keeping identity", func(t *testing.T) {
		seed(t, s, "111", TextTurn(RoleUser, "a"), TextTurn(RoleAssistant, "b"))
		before, _ := s.Get(ctx, "111")

		if err := s.Reset(ctx, "111"); err != nil {
			t.Fatalf("reset: %v", err)
		}

		st, _ := s.Get(ctx, "111")
		if len(st.History) != 0 {
			t.Errorf("expected empty history, got %d turns", len(st.History))
		}
		if st.UserID != before.UserID || !st.CreatedAt.Equal(before.CreatedAt) {
			t.Errorf("identity fields changed: %+v", st)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		seed(t, s, "222", TextTurn(RoleUser, "a"))
		_ = s.Reset(ctx, "222")
		once, _ := s.Get(ctx, "222")
		_ = s.Reset(ctx, "222")
		twice, _ := s.Get(ctx, "222")

		if len(once.History) != 0 || len(twice.History) != 0 {
			t.Errorf("expected empty history after both resets")
		}
	})
}

func TestRemoveTurn(t *testing.T) {
	ctx := context.Background()

	history := []Turn{
		TextTurn(RoleUser, "zero"),
		TextTurn(RoleAssistant, "one"),
		TextTurn(RoleUser, "two"),
		TextTurn(RoleAssistant, "three"),
	}

	t.Run("shifts later elements left", func(t *testing.T) {
		for i := 0; i < len(history); i++ {
			s := newTestStore()
			seed(t, s, "111", history...)

			if err := s.RemoveTurn(ctx, "111", i); err != nil {
				t.Fatalf("remove index %d: %v", i, err)
			}

			st, _ := s.Get(ctx, "111")
			if len(st.History) != len(history)-1 {
				t.Fatalf("expected %d turns, got %d", len(history)-1, len(st.History))
			}
			for j, turn := range st.History {
				want := history[j]
				if j >= i {
					want = history[j+1]
				}
				if turn.TextContent() != want.TextContent() {
					t.Errorf("index %d after removing %d: got %q, want %q",
						j, i, turn.TextContent(), want.TextContent())
				}
			}
		}
	})

	t.Run("out of range is a noop", func(t *testing.T) {
		s := newTestStore()
		seed(t, s, "111", history...)

		if err := s.RemoveTurn(ctx, "111", 99); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		st, _ := s.Get(ctx, "111")
		if len(st.History) != len(history) {
			t.Errorf("history changed on out-of-range remove")
		}
	})

	t.Run("missing user is a noop", func(t *testing.T) {
		s := newTestStore()
		if err := s.RemoveTurn(ctx, "nobody", 0); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})
}

func TestReplaceTurnContent(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces with single text part", func(t *testing.T) {
		s := newTestStore()
		seed(t, s, "111", Turn{
			Role: RoleUser,
			Parts: []Part{
				{Type: PartText, Text: "caption"},
				{Type: PartImage, Data: "aGk=", MimeType: "image/png"},
			},
		})

		if err := s.ReplaceTurnContent(ctx, "111", 0, "edited"); err != nil {
			t.Fatalf("replace: %v", err)
		}

		st, _ := s.Get(ctx, "111")
		if len(st.History[0].Parts) != 1 || st.History[0].TextContent() != "edited" {
			t.Errorf("unexpected parts: %+v", st.History[0].Parts)
		}
		if st.History[0].Role != RoleUser {
			t.Errorf("role changed: %s", st.History[0].Role)
		}
	})

	t.Run("index errors", func(t *testing.T) {
		s := newTestStore()
		seed(t, s, "111", TextTurn(RoleUser, "only"))

		err := s.ReplaceTurnContent(ctx, "111", 3, "nope")
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("expected ErrIndexOutOfRange, got %v", err)
		}
	})

	t.Run("missing user errors", func(t *testing.T) {
		s := newTestStore()
		err := s.ReplaceTurnContent(ctx, "nobody", 0, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFilterByRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	seed(t, s, "111",
		TextTurn(RoleUser, "q1"),
		TextTurn(RoleAssistant, "a1"),
		TextTurn(RoleUser, "q2"),
		TextTurn(RoleTool, "result"),
	)

	t.Run("projects matching turns in order", func(t *testing.T) {
		turns, err := s.FilterByRole(ctx, "111", RoleUser)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		if len(turns) != 2 || turns[0].TextContent() != "q1" || turns[1].TextContent() != "q2" {
			t.Errorf("unexpected projection: %+v", turns)
		}
	})

	t.Run("missing user errors", func(t *testing.T) {
		_, err := s.FilterByRole(ctx, "nobody", RoleUser)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("expired records are invisible", func(t *testing.T) {
		s := newTestStore()
		seed(t, s, "111", TextTurn(RoleUser, "hello"))

		s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

		st, err := s.Get(ctx, "111")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st != nil {
			t.Error("expected expired record to be invisible")
		}
	})

	t.Run("writes refresh the window", func(t *testing.T) {
		s := newTestStore()
		seed(t, s, "111", TextTurn(RoleUser, "hello"))

		// 40 minutes later an append lands, pushing expiry forward.
		base := time.Now()
		s.now = func() time.Time { return base.Add(40 * time.Minute) }
		if err := s.Append(ctx, "111", TextTurn(RoleAssistant, "hi")); err != nil {
			t.Fatalf("append: %v", err)
		}

		// 80 minutes after creation the original window would be stale
		// under a shorter TTL, but the refresh keeps the record alive.
		s.now = func() time.Time { return base.Add(80 * time.Minute) }
		st, _ := s.Get(ctx, "111")
		if st == nil {
			t.Fatal("expected refreshed record to survive")
		}
	})

	t.Run("sweep reclaims expired records", func(t *testing.T) {
		s := newTestStore()
		seed(t, s, "111", TextTurn(RoleUser, "a"))
		seed(t, s, "222", TextTurn(RoleUser, "b"))

		s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		if n := s.Sweep(); n != 2 {
			t.Errorf("expected 2 swept, got %d", n)
		}
	})
}
