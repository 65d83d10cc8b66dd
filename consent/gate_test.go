package consent_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wrapline/wrapline-go/cache"
	"github.com/wrapline/wrapline-go/consent"
)

type consentConfig struct {
	dir string
	ttl time.Duration
}

func (c *consentConfig) GetConsentDir() string              { return c.dir }
func (c *consentConfig) GetConsentMarkerTTL() time.Duration { return c.ttl }

type recordingSubscriber struct {
	states  []consent.State
	records []consent.Record
}

func (r *recordingSubscriber) OnConsentChange(_ context.Context, state consent.State, record consent.Record) {
	r.states = append(r.states, state)
	r.records = append(r.records, record)
}

type failingStore struct {
	loadErr error
}

func (f *failingStore) Save(context.Context, consent.Record) error {
	return errors.New("disk full")
}

func (f *failingStore) Load(context.Context) (consent.Record, error) {
	if f.loadErr != nil {
		return consent.Record{}, f.loadErr
	}
	return consent.Record{}, consent.ErrNoDecision
}

func newGate(t *testing.T) (*consent.Gate, cache.RawCache) {
	t.Helper()
	markers := cache.NewInMemoryCache()
	t.Cleanup(func() { _ = markers.Close() })
	gate := consent.NewGate(&consentConfig{ttl: time.Hour}, consent.NewMemoryStore(), markers)
	return gate, markers
}

func TestGateStartsUndetermined(t *testing.T) {
	gate, _ := newGate(t)

	require.Equal(t, consent.StateUndetermined, gate.State())
	_, ok := gate.Current()
	require.False(t, ok)
}

func TestDecideTransitionsAndNotifiesInOrder(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()

	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	gate.Subscribe(first)
	gate.Subscribe(second)

	record := gate.Decide(ctx, true)

	require.Equal(t, consent.StateGranted, gate.State())
	require.True(t, record.Functional)
	require.True(t, record.Analytics)
	require.False(t, record.Timestamp.IsZero())

	require.Equal(t, []consent.State{consent.StateGranted}, first.states)
	require.Equal(t, []consent.State{consent.StateGranted}, second.states)

	gate.Decide(ctx, false)
	require.Equal(t, consent.StateDenied, gate.State())
	require.Equal(t, []consent.State{consent.StateGranted, consent.StateDenied}, first.states)
}

func TestDecideSetsMarker(t *testing.T) {
	gate, markers := newGate(t)
	ctx := context.Background()

	gate.Decide(ctx, false)

	exists, err := markers.Exists(ctx, "wrapline.consent.marker")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestBootstrapRestoresPersistedDecision(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := consent.NewFileStore(dir)
	require.NoError(t, err)

	first := consent.NewGate(&consentConfig{ttl: time.Hour}, store, nil)
	first.Decide(ctx, true)

	// A fresh gate over the same directory sees the decision on bootstrap.
	second := consent.NewGate(&consentConfig{ttl: time.Hour}, store, nil)
	sub := &recordingSubscriber{}
	second.Subscribe(sub)

	second.Bootstrap(ctx)

	require.Equal(t, consent.StateGranted, second.State())
	require.Equal(t, []consent.State{consent.StateGranted}, sub.states)
	require.True(t, sub.records[0].Analytics)
}

func TestBootstrapWithoutRecordStaysUndetermined(t *testing.T) {
	gate, _ := newGate(t)
	sub := &recordingSubscriber{}
	gate.Subscribe(sub)

	gate.Bootstrap(context.Background())

	require.Equal(t, consent.StateUndetermined, gate.State())
	require.Empty(t, sub.states)
}

func TestPersistenceFailureDoesNotBlockTransition(t *testing.T) {
	gate := consent.NewGate(&consentConfig{ttl: time.Hour}, &failingStore{}, nil)
	sub := &recordingSubscriber{}
	gate.Subscribe(sub)

	gate.Decide(context.Background(), true)

	require.Equal(t, consent.StateGranted, gate.State())
	require.Equal(t, []consent.State{consent.StateGranted}, sub.states)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := consent.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, consent.ErrNoDecision)

	saved := consent.NewRecord(false)
	require.NoError(t, store.Save(ctx, saved))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, loaded.Analytics)
	require.True(t, loaded.Functional)
	require.Equal(t, consent.StateDenied, loaded.State())
}

func TestHasDecidedUsesMarkerAcrossSessions(t *testing.T) {
	ctx := context.Background()
	markerDir := t.TempDir()

	markers, err := cache.NewFileCache(markerDir)
	require.NoError(t, err)

	first := consent.NewGate(&consentConfig{ttl: time.Hour}, consent.NewMemoryStore(), markers)
	require.False(t, first.HasDecided(ctx))

	first.Decide(ctx, true)
	require.True(t, first.HasDecided(ctx))

	// A fresh gate over the same marker directory but an empty store still
	// knows a decision was made, without any record to load.
	reopened, err := cache.NewFileCache(markerDir)
	require.NoError(t, err)

	second := consent.NewGate(&consentConfig{ttl: time.Hour}, consent.NewMemoryStore(), reopened)
	require.Equal(t, consent.StateUndetermined, second.State())
	require.True(t, second.HasDecided(ctx))
}

func TestHasDecidedFallsBackToStore(t *testing.T) {
	ctx := context.Background()

	store := consent.NewMemoryStore()
	require.NoError(t, store.Save(ctx, consent.NewRecord(false)))

	// No marker cache at all; the persisted record still answers.
	gate := consent.NewGate(&consentConfig{ttl: time.Hour}, store, nil)
	require.True(t, gate.HasDecided(ctx))
}

func TestSubscribeAndGetReturnsCurrentState(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()

	gate.Decide(ctx, true)

	sub := &recordingSubscriber{}
	state := gate.SubscribeAndGet(sub)

	require.Equal(t, consent.StateGranted, state)
	require.Empty(t, sub.states, "registration alone does not replay the current state")

	gate.Decide(ctx, false)
	require.Equal(t, []consent.State{consent.StateDenied}, sub.states)
}

func TestConcurrentDecidesNotifyInStateOrder(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()

	sub := &recordingSubscriber{}
	gate.Subscribe(sub)

	const decisions = 16
	var wg sync.WaitGroup
	for i := 0; i < decisions; i++ {
		wg.Add(1)
		go func(granted bool) {
			defer wg.Done()
			gate.Decide(ctx, granted)
		}(i%2 == 0)
	}
	wg.Wait()

	require.Len(t, sub.states, decisions)
	require.Equal(t, gate.State(), sub.states[len(sub.states)-1],
		"the last notification matches the settled gate state")
}

func TestFileStoreCorruptRecordReadsAsNoDecision(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := consent.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "consent.json"), []byte("{{not json"), 0o600))

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, consent.ErrNoDecision)
}
