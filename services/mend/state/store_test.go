// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_LoadFresh(t *testing.T) {
	store := newTestStore(t)

	before := time.Now().Add(-time.Second)
	state, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, state.Cursor.After(before))
	assert.Empty(t, state.Seen)
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	cursor := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := NewPollState(cursor)
	state.MarkSeen("BUG-1")
	state.MarkSeen("BUG-2")

	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Cursor.Equal(cursor))
	assert.True(t, loaded.HasSeen("BUG-1"))
	assert.True(t, loaded.HasSeen("BUG-2"))
	assert.False(t, loaded.HasSeen("BUG-3"))
}

func TestStore_CorruptStateStartsFresh(t *testing.T) {
	store := newTestStore(t)

	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, []byte("{not json"))
	})
	require.NoError(t, err)

	state, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Empty(t, state.Seen)
}

func TestStore_SaveNil(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Save(nil))
}

func TestPollState_MarkSeenOnNilMap(t *testing.T) {
	var state PollState
	state.MarkSeen("BUG-9")
	assert.True(t, state.HasSeen("BUG-9"))
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Config{Path: dir})
	require.NoError(t, err)

	state := NewPollState(time.Now())
	state.MarkSeen("BUG-42")
	require.NoError(t, store.Save(state))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load()
	require.NoError(t, err)
	assert.True(t, loaded.HasSeen("BUG-42"))
}
