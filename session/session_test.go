package session_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wrapline/wrapline-go/session"
)

func TestNewSession(t *testing.T) {
	sess := session.New("en")

	id, err := uuid.Parse(sess.ID())
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), id.Version())

	require.Equal(t, 0, sess.Turns())
	require.Equal(t, "en", sess.Language())
	require.False(t, sess.StartedAt().IsZero())

	other := session.New("en")
	require.NotEqual(t, sess.ID(), other.ID())
}

func TestIncrementTurnIsAtomic(t *testing.T) {
	sess := session.New("en")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.IncrementTurn()
		}()
	}
	wg.Wait()

	require.Equal(t, 50, sess.Turns())
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	sess := session.New("en")
	sess.IncrementTurn()
	sess.SetLanguage("hi")

	snap := sess.Snapshot()
	require.Equal(t, sess.ID(), snap.ID)
	require.Equal(t, 1, snap.UXTurns)
	require.Equal(t, "hi", snap.Language)

	// Later mutations do not reach an existing snapshot.
	sess.IncrementTurn()
	require.Equal(t, 1, snap.UXTurns)
}
