// ABOUTME: Behavioural tests shared by every Store implementation
// ABOUTME: Covers thread creation, contiguous sequencing, cursor paging and snapshot isolation

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// forEachStore runs fn against every backend.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(nil))
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupTestStore(t))
	})
}

func appendText(t *testing.T, s Store, threadID string, role Role, text string) *Item {
	t.Helper()
	item, err := s.Append(context.Background(), threadID, &Item{Role: role, Content: TextContent(text)})
	require.NoError(t, err)
	return item
}

func TestStore_CreateOrGetThread_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.CreateOrGetThread(ctx, "thread-1", "owner-a")
		require.NoError(t, err)
		assert.Equal(t, "thread-1", first.ID)
		assert.Equal(t, "owner-a", first.OwnerID)

		second, err := s.CreateOrGetThread(ctx, "thread-1", "owner-b")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "owner-a", second.OwnerID, "existing thread keeps its owner")
	})
}

func TestStore_CreateOrGetThread_GeneratesID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		thread, err := s.CreateOrGetThread(context.Background(), "", "owner")
		require.NoError(t, err)
		assert.NotEmpty(t, thread.ID)

		got, err := s.GetThread(context.Background(), thread.ID)
		require.NoError(t, err)
		assert.Equal(t, thread.ID, got.ID)
	})
}

func TestStore_CreateOrGetThread_Concurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.CreateOrGetThread(ctx, "shared", "owner"); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("CreateOrGetThread failed: %v", err)
		}
	})
}

func TestStore_GetThread_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetThread(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestStore_ListThreads_ScopedToOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "a1", "alice")
		require.NoError(t, err)
		_, err = s.CreateOrGetThread(ctx, "a2", "alice")
		require.NoError(t, err)
		_, err = s.CreateOrGetThread(ctx, "b1", "bob")
		require.NoError(t, err)

		threads, err := s.ListThreads(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, threads, 2)
		ids := []string{threads[0].ID, threads[1].ID}
		assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
		assert.False(t, threads[0].CreatedAt.Before(threads[1].CreatedAt), "newest first")
	})
}

func TestStore_Append_AssignsSequence(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)

		first := appendText(t, s, "t", RoleUser, "hi")
		second := appendText(t, s, "t", RoleAssistant, "hello")

		assert.Equal(t, int64(1), first.Seq)
		assert.Equal(t, int64(2), second.Seq)
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, "t", second.ThreadID)
		assert.False(t, second.CreatedAt.IsZero())
		assert.Equal(t, "hello", second.Text())
	})
}

func TestStore_Append_KeepsCallerID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)

		item, err := s.Append(ctx, "t", &Item{ID: "item-42", Role: RoleAssistant, Content: TextContent("x")})
		require.NoError(t, err)
		assert.Equal(t, "item-42", item.ID)
	})
}

func TestStore_Append_UnknownThread(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Append(context.Background(), "nope", &Item{Role: RoleUser, Content: TextContent("x")})
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestStore_Append_RejectsUnknownRole(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)

		_, err = s.Append(ctx, "t", &Item{Role: "system", Content: TextContent("x")})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestStore_Append_ConcurrentSequencesAreContiguous(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "busy", "owner")
		require.NoError(t, err)
		_, err = s.CreateOrGetThread(ctx, "other", "owner")
		require.NoError(t, err)

		const writers = 10
		const perWriter = 10

		var wg sync.WaitGroup
		seqs := make(chan int64, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					item, err := s.Append(ctx, "busy", &Item{Role: RoleUser, Content: TextContent(fmt.Sprintf("%d-%d", w, i))})
					if err != nil {
						t.Errorf("append failed: %v", err)
						return
					}
					seqs <- item.Seq
					// Interleave appends on another thread to check isolation
					if _, err := s.Append(ctx, "other", &Item{Role: RoleUser, Content: TextContent("x")}); err != nil {
						t.Errorf("append to other failed: %v", err)
					}
				}
			}(w)
		}
		wg.Wait()
		close(seqs)

		seen := make(map[int64]bool)
		for seq := range seqs {
			assert.False(t, seen[seq], "duplicate seq %d", seq)
			seen[seq] = true
		}
		require.Len(t, seen, writers*perWriter)
		for i := int64(1); i <= writers*perWriter; i++ {
			assert.True(t, seen[i], "missing seq %d", i)
		}

		page, err := s.LoadItems(ctx, "busy", nil, MaxPageSize, OrderAsc)
		require.NoError(t, err)
		require.Len(t, page.Items, writers*perWriter)
		for i, item := range page.Items {
			assert.Equal(t, int64(i+1), item.Seq)
		}
	})
}

func TestStore_LoadItems_PaginatesDesc(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)
		for i := 1; i <= 50; i++ {
			appendText(t, s, "t", RoleUser, fmt.Sprintf("msg %d", i))
		}

		first, err := s.LoadItems(ctx, "t", nil, 30, OrderDesc)
		require.NoError(t, err)
		require.Len(t, first.Items, 30)
		assert.Equal(t, int64(50), first.Items[0].Seq)
		assert.Equal(t, int64(21), first.Items[29].Seq)
		require.NotNil(t, first.NextCursor)

		second, err := s.LoadItems(ctx, "t", first.NextCursor, 30, OrderDesc)
		require.NoError(t, err)
		require.Len(t, second.Items, 20)
		assert.Equal(t, int64(20), second.Items[0].Seq)
		assert.Equal(t, int64(1), second.Items[19].Seq)
		assert.Nil(t, second.NextCursor)
	})
}

func TestStore_LoadItems_PaginatesAsc(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)
		for i := 1; i <= 5; i++ {
			appendText(t, s, "t", RoleUser, fmt.Sprintf("msg %d", i))
		}

		first, err := s.LoadItems(ctx, "t", nil, 2, OrderAsc)
		require.NoError(t, err)
		require.Len(t, first.Items, 2)
		assert.Equal(t, "msg 1", first.Items[0].Text())
		require.NotNil(t, first.NextCursor)

		second, err := s.LoadItems(ctx, "t", first.NextCursor, 2, OrderAsc)
		require.NoError(t, err)
		require.Len(t, second.Items, 2)
		assert.Equal(t, int64(3), second.Items[0].Seq)
		require.NotNil(t, second.NextCursor)

		third, err := s.LoadItems(ctx, "t", second.NextCursor, 2, OrderAsc)
		require.NoError(t, err)
		require.Len(t, third.Items, 1)
		assert.Equal(t, int64(5), third.Items[0].Seq)
		assert.Nil(t, third.NextCursor)
	})
}

func TestStore_LoadItems_ExactPageHasNoCursor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			appendText(t, s, "t", RoleUser, "x")
		}

		page, err := s.LoadItems(ctx, "t", nil, 3, OrderDesc)
		require.NoError(t, err)
		assert.Len(t, page.Items, 3)
		assert.Nil(t, page.NextCursor)
	})
}

func TestStore_LoadItems_CursorStableUnderAppend(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)
		for i := 1; i <= 10; i++ {
			appendText(t, s, "t", RoleUser, fmt.Sprintf("msg %d", i))
		}

		first, err := s.LoadItems(ctx, "t", nil, 4, OrderDesc)
		require.NoError(t, err)
		before := append([]Item(nil), first.Items...)

		// New items must not shift what the page or its cursor refer to
		for i := 0; i < 5; i++ {
			appendText(t, s, "t", RoleAssistant, "late")
		}

		assert.Equal(t, before, first.Items)

		next, err := s.LoadItems(ctx, "t", first.NextCursor, 4, OrderDesc)
		require.NoError(t, err)
		require.Len(t, next.Items, 4)
		assert.Equal(t, int64(6), next.Items[0].Seq)
		assert.Equal(t, int64(3), next.Items[3].Seq)
	})
}

func TestStore_LoadItems_UnknownThreadIsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		page, err := s.LoadItems(context.Background(), "missing", nil, 10, OrderDesc)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Nil(t, page.NextCursor)
	})
}

func TestStore_LoadItems_InvalidArguments(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)

		tests := []struct {
			name  string
			after *Cursor
			limit int
			order Order
		}{
			{name: "zero limit", limit: 0, order: OrderDesc},
			{name: "negative limit", limit: -5, order: OrderAsc},
			{name: "bad order", limit: 10, order: "sideways"},
			{name: "garbage cursor", after: CursorPtr("%%%"), limit: 10, order: OrderDesc},
			{name: "foreign cursor", after: CursorPtr(NewCursor("other-thread", 3)), limit: 10, order: OrderDesc},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.LoadItems(ctx, "t", tt.after, tt.limit, tt.order)
				assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
			})
		}
	})
}

func TestStore_LoadItems_ClampsLargeLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)
		appendText(t, s, "t", RoleUser, "only")

		page, err := s.LoadItems(ctx, "t", nil, MaxPageSize*10, OrderDesc)
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
	})
}

func TestStore_ReturnedItemsAreCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateOrGetThread(ctx, "t", "owner")
		require.NoError(t, err)
		appendText(t, s, "t", RoleUser, "original")

		page, err := s.LoadItems(ctx, "t", nil, 10, OrderDesc)
		require.NoError(t, err)
		page.Items[0].Content[0].Text = "mutated"

		again, err := s.LoadItems(ctx, "t", nil, 10, OrderDesc)
		require.NoError(t, err)
		assert.Equal(t, "original", again.Items[0].Text())
	})
}
