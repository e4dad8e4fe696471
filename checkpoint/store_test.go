package checkpoint

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplemetrics/finagent/core"
)

func TestLoadUnseenThreadIsEmpty(t *testing.T) {
	store := NewInMemoryStore()
	th, err := store.Load("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", th.ID)
	assert.Empty(t, th.Messages)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewInMemoryStore()

	th := core.NewThread("42")
	th.Append(
		core.NewTextMessage(core.RoleSystem, "be helpful"),
		core.NewTextMessage(core.RoleUser, "What is 2+2?"),
		core.NewTextMessage(core.RoleAssistant, "4"),
	)
	th.Summary = &core.RunningSummary{Text: "math chat", Tokens: 2}
	require.NoError(t, store.Save("42", th))

	loaded, err := store.Load("42")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3)
	for i := range th.Messages {
		assert.Equal(t, th.Messages[i].ID, loaded.Messages[i].ID)
		assert.Equal(t, th.Messages[i].Role, loaded.Messages[i].Role)
		assert.Equal(t, th.Messages[i].Text(), loaded.Messages[i].Text())
	}
	require.NotNil(t, loaded.Summary)
	assert.Equal(t, "math chat", loaded.Summary.Text)
}

func TestSaveIsSnapshotIsolated(t *testing.T) {
	store := NewInMemoryStore()

	th := core.NewThread("a")
	th.Append(core.NewTextMessage(core.RoleUser, "one"))
	require.NoError(t, store.Save("a", th))

	// Mutating the caller's copy after Save must not leak into the store.
	th.Append(core.NewTextMessage(core.RoleUser, "two"))

	loaded, err := store.Load("a")
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)
}

func TestThreadIsolation(t *testing.T) {
	store := NewInMemoryStore()

	a := core.NewThread("a")
	a.Append(core.NewTextMessage(core.RoleUser, "alpha"))
	b := core.NewThread("b")
	b.Append(core.NewTextMessage(core.RoleUser, "beta"), core.NewTextMessage(core.RoleAssistant, "hi"))

	require.NoError(t, store.Save("a", a))
	require.NoError(t, store.Save("b", b))

	la, _ := store.Load("a")
	lb, _ := store.Load("b")
	assert.Len(t, la.Messages, 1)
	assert.Len(t, lb.Messages, 2)
	assert.Equal(t, "alpha", la.Messages[0].Text())
	assert.Equal(t, "beta", lb.Messages[0].Text())
}

func TestAcquireRejectsBusyThread(t *testing.T) {
	store := NewInMemoryStore()

	require.NoError(t, store.Acquire("42"))
	err := store.Acquire("42")
	assert.ErrorIs(t, err, core.ErrThreadBusy)

	// Distinct ids are unaffected.
	assert.NoError(t, store.Acquire("other"))

	store.Release("42")
	assert.NoError(t, store.Acquire("42"))
}

func TestConcurrentDistinctThreads(t *testing.T) {
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", n)
			require.NoError(t, store.Acquire(id))
			defer store.Release(id)

			th, err := store.Load(id)
			require.NoError(t, err)
			th.Append(core.NewTextMessage(core.RoleUser, id))
			require.NoError(t, store.Save(id, th))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("t%d", i)
		th, err := store.Load(id)
		require.NoError(t, err)
		require.Len(t, th.Messages, 1)
		assert.Equal(t, id, th.Messages[0].Text())
	}
}
