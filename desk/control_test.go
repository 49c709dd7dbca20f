package desk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jc211/panda-desk/internal/mockdesk"
	"github.com/jc211/panda-desk/internal/tokenstore"
)

// pressUntil keeps pressing button once the desk has seen a control-token
// request, until stop is closed.
func pressUntil(s *mockdesk.Server, button string, stop <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.Requests(requestPath) > 0 {
					s.Press(button, true)
					s.Press(button, false)
				}
			}
		}
	}()
	return &wg
}

func TestTakeControlWhenFree(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := loggedIn(t, s, FR3)
	ctx := context.Background()

	require.NoError(t, d.TakeControl(ctx, false))

	active, ok := s.Active()
	require.True(t, ok)
	require.Equal(t, testUser, active.OwnedBy)

	held := d.HeldToken()
	require.Equal(t, active.ID, held.ID)
	require.Equal(t, active.Token, held.Token)

	has, err := d.HasControl(ctx)
	require.NoError(t, err)
	require.True(t, has)
}

func TestTakeControlRetakes(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := loggedIn(t, s, FR3)
	ctx := context.Background()

	require.NoError(t, d.TakeControl(ctx, false))
	require.NoError(t, d.TakeControl(ctx, false))
	require.Equal(t, 1, s.Requests(requestPath))
}

func TestTakeControlHeldByOther(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	s.SetActive(mockdesk.ActiveToken{ID: 7, OwnedBy: "alice", Token: "theirs"})
	d := loggedIn(t, s, FR3)

	err := d.TakeControl(context.Background(), false)
	require.ErrorIs(t, err, ErrControl)
	require.ErrorContains(t, err, "alice")
	require.Zero(t, s.Requests(requestPath))
	require.True(t, d.HeldToken().Empty())

	has, err := d.HasControl(context.Background())
	require.NoError(t, err)
	require.False(t, has)
}

func TestForceTakeControlConfirmed(t *testing.T) {
	s := newFake(t, mockdesk.Options{ForceTimeout: 5})
	s.SetActive(mockdesk.ActiveToken{ID: 7, OwnedBy: "alice", Token: "theirs"})
	d := loggedIn(t, s, FR3)

	stop := make(chan struct{})
	wg := pressUntil(s, "circle", stop)
	err := d.TakeControl(context.Background(), true)
	close(stop)
	wg.Wait()

	require.NoError(t, err)
	require.Equal(t, 1, s.Requests(requestPath))
	active, ok := s.Active()
	require.True(t, ok)
	require.Equal(t, testUser, active.OwnedBy)
	has, err := d.HasControl(context.Background())
	require.NoError(t, err)
	require.True(t, has)
}

func TestForceTakeControlTimesOut(t *testing.T) {
	s := newFake(t, mockdesk.Options{ForceTimeout: 1})
	s.SetActive(mockdesk.ActiveToken{ID: 7, OwnedBy: "alice", Token: "theirs"})
	d := loggedIn(t, s, FR3)

	start := time.Now()
	err := d.TakeControl(context.Background(), true)
	require.ErrorIs(t, err, ErrControlTimeout)
	require.ErrorIs(t, err, ErrControl)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
	require.True(t, d.HeldToken().Empty())

	active, ok := s.Active()
	require.True(t, ok)
	require.Equal(t, "alice", active.OwnedBy)
}

func TestForceTakeControlWithoutTimeoutSetting(t *testing.T) {
	s := newFake(t, mockdesk.Options{OmitForceTimeout: true})
	s.SetActive(mockdesk.ActiveToken{ID: 7, OwnedBy: "alice", Token: "theirs"})
	d := loggedIn(t, s, FR3)

	done := make(chan error, 1)
	go func() {
		done <- d.TakeControl(context.Background(), true)
	}()

	select {
	case err := <-done:
		require.ErrorContains(t, err, "tokenForceTimeout")
	case <-time.After(3 * time.Second):
		t.Fatal("forced TakeControl did not return without a tokenForceTimeout")
	}
	require.Zero(t, s.Requests(requestPath))
	require.True(t, d.HeldToken().Empty())
}

func TestForceTakeControlIgnoresOtherButtons(t *testing.T) {
	s := newFake(t, mockdesk.Options{ForceTimeout: 1})
	s.SetActive(mockdesk.ActiveToken{ID: 7, OwnedBy: "alice", Token: "theirs"})
	d := loggedIn(t, s, FR3)

	stop := make(chan struct{})
	wg := pressUntil(s, "cross", stop)
	err := d.TakeControl(context.Background(), true)
	close(stop)
	wg.Wait()

	require.ErrorIs(t, err, ErrControlTimeout)
}

func TestReleaseControl(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := loggedIn(t, s, FR3)
	ctx := context.Background()

	require.ErrorIs(t, d.ReleaseControl(ctx), ErrPermission)

	require.NoError(t, d.TakeControl(ctx, false))
	require.NoError(t, d.ReleaseControl(ctx))
	require.True(t, d.HeldToken().Empty())
	_, ok := s.Active()
	require.False(t, ok)
}

func TestReleaseStaleToken(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := loggedIn(t, s, FR3)
	ctx := context.Background()

	require.NoError(t, d.TakeControl(ctx, false))
	s.SetActive(mockdesk.ActiveToken{ID: 9, OwnedBy: "alice", Token: "theirs"})

	require.ErrorIs(t, d.ReleaseControl(ctx), ErrPermission)
	require.False(t, d.HeldToken().Empty())
}

func TestControlTokenPersistence(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	dir := t.TempDir()
	ctx := context.Background()

	first := loggedIn(t, s, FR3, WithTokenDir(dir))
	require.NoError(t, first.TakeControl(ctx, false))
	held := first.HeldToken()

	saved, err := tokenstore.New(dir).Load(s.Host())
	require.NoError(t, err)
	require.Equal(t, held.Token, saved.Token)

	second := loggedIn(t, s, FR3, WithTokenDir(dir))
	require.Equal(t, held, second.HeldToken())
	require.NoError(t, second.TakeControl(ctx, false))
	require.Equal(t, 1, s.Requests(requestPath))

	require.NoError(t, second.ReleaseControl(ctx))
	saved, err = tokenstore.New(dir).Load(s.Host())
	require.NoError(t, err)
	require.Empty(t, saved.Token)
}

func TestTokensNotPersistedByDefault(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	ctx := context.Background()

	first := loggedIn(t, s, FR3)
	require.NoError(t, first.TakeControl(ctx, false))

	second := loggedIn(t, s, FR3)
	require.True(t, second.HeldToken().Empty())
	require.ErrorIs(t, second.TakeControl(ctx, false), ErrControl)
}
