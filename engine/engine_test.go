// Copyright (c) 2025 Noted Co.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notedco/noted/wire"
)

type fakeStore struct {
	mtx     sync.Mutex
	content map[int64]string
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{content: make(map[int64]string)}
}

func (s *fakeStore) SaveSummary(sid int64, content string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.content[sid] = content
	s.saves++
	return nil
}

func (s *fakeStore) SummaryContent(sid int64) (string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.content[sid], nil
}

func (s *fakeStore) saved(sid int64) string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.content[sid]
}

func newTestEngine(t *testing.T, content string) (*Engine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.content[1] = content
	e := New(Config{
		SID:     1,
		Content: content,
		Store:   store,
		Logf:    t.Logf,
	})
	t.Cleanup(e.Stop)
	return e, store
}

// waitForContent drains broadcasts until the document reaches want.
func waitForContent(t *testing.T, ch <-chan Broadcast, want string) wire.DocUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-ch:
			require.Equal(t, wire.ReplyTakeUpdate, b.Code)
			var update wire.DocUpdate
			require.NoError(t, wire.DecodePayload(b.Params[0], &update))
			if update.DocContent == want {
				return update
			}
		case <-deadline:
			t.Fatalf("document never reached %q", want)
		}
	}
}

func intPtr(v int) *int { return &v }

func TestConcurrentInsertOrdering(t *testing.T) {
	e, _ := newTestEngine(t, "hello")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(3, watcher)

	// client a appended " world" first, client b prepended "X" later;
	// a's cursor sits after its own insertion
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Cursor:   intPtr(6),
		Changes: []wire.Change{{
			Range:     [2]int{5, 5},
			Op:        wire.OpInsert,
			Text:      " world",
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Changes: []wire.Change{{
			Range:     [2]int{0, 0},
			Op:        wire.OpInsert,
			Text:      "X",
			ClientID:  "b",
			Timestamp: 2,
			ChangeID:  "b-1",
		}},
	}))

	update := waitForContent(t, watcher, "Xhello world")

	// b's insert ahead of a's cursor pushed it right by one
	require.Equal(t, 7, update.Cursors["a"])
}

func TestDeleteSwallowsConcurrentInsert(t *testing.T) {
	e, _ := newTestEngine(t, "abcdef")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(3, watcher)

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes: []wire.Change{{
			Range:     [2]int{1, 4},
			Op:        wire.OpDelete,
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Changes: []wire.Change{{
			Range:     [2]int{3, 3},
			Op:        wire.OpInsert,
			Text:      "Z",
			ClientID:  "b",
			Timestamp: 2,
			ChangeID:  "b-1",
		}},
	}))

	// b's insert position fell inside the deleted span and lands at its
	// left edge
	waitForContent(t, watcher, "aZef")
}

func TestUpdateScalesInteriorPositions(t *testing.T) {
	e, _ := newTestEngine(t, "abcdef")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(3, watcher)

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Cursor:   intPtr(2),
		Changes:  nil,
	}))
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes: []wire.Change{{
			Range:     [2]int{0, 4},
			Op:        wire.OpUpdate,
			Text:      "XY",
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))

	update := waitForContent(t, watcher, "XYef")

	// interior position 2 of [0,4) maps to round(2*2/4) = 1
	require.Equal(t, 1, update.Cursors["b"])
}

func TestCollapsedChangeDropped(t *testing.T) {
	e, _ := newTestEngine(t, "abcdef")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(3, watcher)

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes: []wire.Change{{
			Range:     [2]int{0, 3},
			Op:        wire.OpDelete,
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))
	// b deletes a span that a's delete already removed entirely
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Changes: []wire.Change{{
			Range:     [2]int{1, 2},
			Op:        wire.OpDelete,
			ClientID:  "b",
			Timestamp: 2,
			ChangeID:  "b-1",
		}},
	}))

	update := waitForContent(t, watcher, "def")

	// the collapsed delete must not appear in the applied history
	for _, c := range update.RecentChanges {
		require.NotEqual(t, "b-1", c.ChangeID)
	}
}

func TestOutOfRangeChangeClamped(t *testing.T) {
	e, _ := newTestEngine(t, "abc")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(3, watcher)

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes: []wire.Change{{
			Range:     [2]int{2, 99},
			Op:        wire.OpDelete,
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))

	waitForContent(t, watcher, "ab")
}

func TestHistoryRingAndRecentChanges(t *testing.T) {
	e, _ := newTestEngine(t, "")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(3, watcher)

	changes := make([]wire.Change, 150)
	for i := range changes {
		changes[i] = wire.Change{
			Range:     [2]int{0, 0},
			Op:        wire.OpInsert,
			Text:      "x",
			ClientID:  "a",
			Timestamp: int64(i),
			ChangeID:  "a-" + string(rune('0'+i%10)),
		}
	}
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes:  changes,
	}))

	var update wire.DocUpdate
	deadline := time.After(2 * time.Second)
	for len(update.DocContent) != 150 {
		select {
		case b := <-watcher:
			require.NoError(t, wire.DecodePayload(b.Params[0], &update))
		case <-deadline:
			t.Fatalf("document never reached 150 characters")
		}
	}
	require.Len(t, update.RecentChanges, 5)

	e.Stop()
	require.Len(t, e.history, MaxHistory)
}

func TestSnapshotOnSubscribe(t *testing.T) {
	e, _ := newTestEngine(t, "existing text")

	watcher := make(chan Broadcast, 16)
	e.Subscribe(7, watcher)

	update := waitForContent(t, watcher, "existing text")
	require.Empty(t, update.RecentChanges)
}

func TestPersistOnStop(t *testing.T) {
	e, store := newTestEngine(t, "before")

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes: []wire.Change{{
			Range:     [2]int{6, 6},
			Op:        wire.OpInsert,
			Text:      " after",
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))
	e.Stop()

	require.Equal(t, "before after", store.saved(1))
}

func TestEnqueueAfterStop(t *testing.T) {
	e, _ := newTestEngine(t, "")
	e.Stop()
	err := e.Enqueue(wire.ChangeBatch{ClientID: "a"})
	require.ErrorIs(t, err, ErrStopped)
}

func TestStuckSubscriberDropped(t *testing.T) {
	e, _ := newTestEngine(t, "")

	good := make(chan Broadcast, 64)
	e.Subscribe(1, good)

	// this subscriber never drains its channel
	stuck := make(chan Broadcast)
	e.Subscribe(2, stuck)

	for i := 0; i < sendFailLimit+1; i++ {
		require.NoError(t, e.Enqueue(wire.ChangeBatch{
			ClientID: "a",
			UserID:   1,
			Changes: []wire.Change{{
				Range:     [2]int{0, 0},
				Op:        wire.OpInsert,
				Text:      "x",
				ClientID:  "a",
				Timestamp: int64(i),
				ChangeID:  "a-1",
			}},
		}))
		// wait for the pass so every enqueue broadcasts separately
		select {
		case <-good:
		case <-time.After(2 * time.Second):
			t.Fatalf("no broadcast received")
		}
	}

	require.Eventually(t, func() bool {
		return !e.IsSubscribed(2)
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, e.IsSubscribed(1))
}

func TestUnsubscribeDropsClientState(t *testing.T) {
	e, _ := newTestEngine(t, "hello")

	aliceCh := make(chan Broadcast, 16)
	bobCh := make(chan Broadcast, 16)
	e.Subscribe(1, aliceCh)
	e.Subscribe(2, bobCh)

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Cursor:   intPtr(3),
	}))
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Changes: []wire.Change{{
			Range:     [2]int{0, 0},
			Op:        wire.OpInsert,
			Text:      "x",
			ClientID:  "b",
			Timestamp: 1,
			ChangeID:  "b-1",
		}},
	}))
	update := waitForContent(t, bobCh, "xhello")
	require.Contains(t, update.Cursors, "a")

	remaining := e.Unsubscribe(1)
	require.Equal(t, 1, remaining)

	// b's second insert at 0 transforms against its own applied insert
	// and lands after it
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Changes: []wire.Change{{
			Range:     [2]int{0, 0},
			Op:        wire.OpInsert,
			Text:      "y",
			ClientID:  "b",
			Timestamp: 2,
			ChangeID:  "b-2",
		}},
	}))
	update = waitForContent(t, bobCh, "xyhello")
	require.NotContains(t, update.Cursors, "a")
}

func TestMissedBroadcastRedelivered(t *testing.T) {
	store := newFakeStore()
	store.content[1] = "seeded"
	e := New(Config{
		SID:             1,
		Content:         "seeded",
		Store:           store,
		Logf:            t.Logf,
		PersistInterval: 50 * time.Millisecond,
	})
	t.Cleanup(e.Stop)

	// nobody reads this channel yet, so the join snapshot is missed
	slow := make(chan Broadcast)
	e.Subscribe(2, slow)

	require.Eventually(t, func() bool {
		e.mtx.Lock()
		defer e.mtx.Unlock()
		return e.sendFails[2] > 0
	}, 2*time.Second, 5*time.Millisecond)

	// once the session drains again, the ticker redelivers the snapshot
	select {
	case b := <-slow:
		require.Equal(t, wire.ReplyTakeUpdate, b.Code)
		var update wire.DocUpdate
		require.NoError(t, wire.DecodePayload(b.Params[0], &update))
		require.Equal(t, "seeded", update.DocContent)
	case <-time.After(2 * time.Second):
		t.Fatalf("missed broadcast never redelivered")
	}
	require.True(t, e.IsSubscribed(2))
}

func TestHistoryReplayReproducesContent(t *testing.T) {
	e, _ := newTestEngine(t, "hello")

	watcher := make(chan Broadcast, 64)
	e.Subscribe(3, watcher)

	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "a",
		UserID:   1,
		Changes: []wire.Change{{
			Range:     [2]int{5, 5},
			Op:        wire.OpInsert,
			Text:      " world",
			ClientID:  "a",
			Timestamp: 1,
			ChangeID:  "a-1",
		}},
	}))
	require.NoError(t, e.Enqueue(wire.ChangeBatch{
		ClientID: "b",
		UserID:   2,
		Changes: []wire.Change{
			{
				Range:     [2]int{0, 2},
				Op:        wire.OpUpdate,
				Text:      "HE",
				ClientID:  "b",
				Timestamp: 2,
				ChangeID:  "b-1",
			},
			{
				Range:     [2]int{0, 0},
				Op:        wire.OpInsert,
				Text:      "!",
				ClientID:  "b",
				Timestamp: 3,
				ChangeID:  "b-2",
			},
		},
	}))
	waitForContent(t, watcher, "!HEllo world")
	e.Stop()

	// the recorded history holds post-transform changes; replaying them
	// on the initial snapshot must land on the same document
	replay := &Engine{content: "hello", logf: t.Logf}
	for _, c := range e.history {
		replay.content = replay.applyText(c)
	}
	require.Equal(t, e.content, replay.content)
}

func TestTransformPos(t *testing.T) {
	insert := wire.Change{Range: [2]int{5, 5}, Op: wire.OpInsert, Text: "abc"}
	require.Equal(t, 3, transformPos(3, insert))
	require.Equal(t, 8, transformPos(5, insert))
	require.Equal(t, 10, transformPos(7, insert))

	del := wire.Change{Range: [2]int{2, 6}, Op: wire.OpDelete}
	require.Equal(t, 1, transformPos(1, del))
	require.Equal(t, 2, transformPos(4, del))
	require.Equal(t, 2, transformPos(6, del))
	require.Equal(t, 4, transformPos(8, del))

	// replace 4 characters with 2
	upd := wire.Change{Range: [2]int{2, 6}, Op: wire.OpUpdate, Text: "XY"}
	require.Equal(t, 1, transformPos(1, upd))
	require.Equal(t, 3, transformPos(4, upd)) // 2 + round(2*2/4)
	require.Equal(t, 4, transformPos(6, upd))
	require.Equal(t, 6, transformPos(8, upd))
}
