package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhclintohn/9bot-pair-server/internal/model"
)

func newTestSession(id, userID string) *Session {
	return NewSession(id, userID, "12025551234", time.Now())
}

func TestSessionTransitions(t *testing.T) {
	t.Run("walks the happy path in order", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		assert.Equal(t, model.StateInitializing, s.State())

		assert.True(t, s.BeginPairing())
		assert.Equal(t, model.StateAwaitingPairingCode, s.State())

		assert.True(t, s.CodeIssued("GKTM-PQRS"))
		assert.Equal(t, model.StateAwaitingUserConfirmation, s.State())
		assert.Equal(t, "GKTM-PQRS", s.PairingCode())

		assert.True(t, s.MarkConnected(time.Now()))
		assert.Equal(t, model.StateConnected, s.State())

		assert.True(t, s.BeginDeploy())
		assert.Equal(t, model.StateDeploying, s.State())

		assert.True(t, s.MarkDeployed("9bot-alice", time.Now()))
		assert.Equal(t, model.StateDeployed, s.State())
		_, done := s.Terminal()
		assert.True(t, done)
	})

	t.Run("rejects out of order transitions", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		assert.False(t, s.CodeIssued("GKTM-PQRS"), "code before pairing began")
		assert.False(t, s.MarkConnected(time.Now()), "open before code issued")
		assert.False(t, s.BeginDeploy(), "deploy before connected")

		require.True(t, s.BeginPairing())
		assert.False(t, s.BeginPairing(), "pairing cannot begin twice")
	})

	t.Run("sets the pairing code at most once", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		require.True(t, s.CodeIssued("AAAA-1111"))
		assert.False(t, s.CodeIssued("BBBB-2222"))
		assert.Equal(t, "AAAA-1111", s.PairingCode())
	})

	t.Run("fails from any non-terminal state", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		assert.True(t, s.MarkFailed(errors.New("code request failed"), time.Now()))
		assert.Equal(t, model.StateFailed, s.State())
		assert.EqualError(t, s.LastError(), "code request failed")

		assert.False(t, s.MarkFailed(errors.New("again"), time.Now()), "terminal sessions stay put")
		assert.Equal(t, "code request failed", s.LastError().Error())
	})
}

func TestExpireConnectRace(t *testing.T) {
	t.Run("expiry loses once connected", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		require.True(t, s.CodeIssued("AAAA-1111"))
		require.True(t, s.MarkConnected(time.Now()))

		assert.False(t, s.MarkExpired(errors.New("expired"), time.Now()))
		assert.Equal(t, model.StateConnected, s.State())
	})

	t.Run("connect loses once expired", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		require.True(t, s.CodeIssued("AAAA-1111"))
		require.True(t, s.MarkExpired(errors.New("expired"), time.Now()))

		assert.False(t, s.MarkConnected(time.Now()))
		assert.Equal(t, model.StateExpired, s.State())
	})

	t.Run("exactly one side wins under concurrency", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			s := newTestSession("s1", "alice")
			require.True(t, s.BeginPairing())
			require.True(t, s.CodeIssued("AAAA-1111"))

			var wg sync.WaitGroup
			var connected, expired bool
			wg.Add(2)
			go func() {
				defer wg.Done()
				connected = s.MarkConnected(time.Now())
			}()
			go func() {
				defer wg.Done()
				expired = s.MarkExpired(errors.New("expired"), time.Now())
			}()
			wg.Wait()

			assert.NotEqual(t, connected, expired, "exactly one of connect/expire must win")
		}
	})
}

func TestDeliver(t *testing.T) {
	t.Run("delivers the outcome exactly once", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		assert.True(t, s.Deliver(Outcome{Code: "AAAA-1111"}))
		assert.False(t, s.Deliver(Outcome{Err: errors.New("late timeout")}))
		assert.False(t, s.Deliver(Outcome{Err: errors.New("late close")}))

		out := <-s.Response()
		assert.Equal(t, "AAAA-1111", out.Code)
		assert.NoError(t, out.Err)

		select {
		case extra := <-s.Response():
			t.Fatalf("unexpected second outcome: %+v", extra)
		default:
		}
	})

	t.Run("concurrent deliveries produce one outcome", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		var wg sync.WaitGroup
		wins := make(chan bool, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				wins <- s.Deliver(Outcome{Code: "AAAA-1111"})
			}(i)
		}
		wg.Wait()
		close(wins)

		winners := 0
		for won := range wins {
			if won {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
		assert.True(t, s.ResponseSent())
	})
}

func TestDoneSignal(t *testing.T) {
	t.Run("closes once a terminal state is reached", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		select {
		case <-s.Done():
			t.Fatal("done closed before any terminal transition")
		default:
		}

		require.True(t, s.MarkFailed(errors.New("gone"), time.Now()))
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatal("done not closed after failure")
		}
	})

	t.Run("closes exactly once under racing terminal transitions", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			s := newTestSession("s1", "alice")
			require.True(t, s.BeginPairing())

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				s.MarkFailed(errors.New("failed"), time.Now())
			}()
			go func() {
				defer wg.Done()
				s.MarkExpired(errors.New("expired"), time.Now())
			}()
			wg.Wait()
			<-s.Done()
		}
	})
}

func TestMarkFailedIfAwaitingCode(t *testing.T) {
	t.Run("fails a session still waiting for its code", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		assert.True(t, s.MarkFailedIfAwaitingCode(errors.New("code timeout"), time.Now()))
		assert.Equal(t, model.StateFailed, s.State())
	})

	t.Run("is a no-op once the code was issued", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		require.True(t, s.CodeIssued("AAAA-1111"))

		assert.False(t, s.MarkFailedIfAwaitingCode(errors.New("code timeout"), time.Now()))
		assert.Equal(t, model.StateAwaitingUserConfirmation, s.State())
	})
}

func TestRegistry(t *testing.T) {
	t.Run("registers and fetches by id", func(t *testing.T) {
		r := New()
		s := newTestSession("s1", "alice")
		require.True(t, r.Register(s))
		assert.Same(t, s, r.Get("s1"))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("returns nil for unknown id", func(t *testing.T) {
		r := New()
		assert.Nil(t, r.Get("missing"))
	})

	t.Run("rejects a second active session for the same user", func(t *testing.T) {
		r := New()
		require.True(t, r.Register(newTestSession("s1", "alice")))
		assert.False(t, r.Register(newTestSession("s2", "alice")))
		assert.True(t, r.Register(newTestSession("s3", "bob")))
	})

	t.Run("allows a new session once the previous one finished", func(t *testing.T) {
		r := New()
		first := newTestSession("s1", "alice")
		require.True(t, r.Register(first))
		require.True(t, first.MarkFailed(errors.New("gone"), time.Now()))

		assert.True(t, r.Register(newTestSession("s2", "alice")))
	})

	t.Run("remove deletes the entry", func(t *testing.T) {
		r := New()
		require.True(t, r.Register(newTestSession("s1", "alice")))
		r.Remove("s1")
		assert.Nil(t, r.Get("s1"))
		assert.Equal(t, 0, r.Len())
	})
}

func TestSweepTerminal(t *testing.T) {
	t.Run("evicts terminal sessions past the grace window", func(t *testing.T) {
		r := New()
		done := newTestSession("done", "alice")
		require.True(t, r.Register(done))
		require.True(t, done.MarkFailed(errors.New("gone"), time.Now().Add(-time.Minute)))

		live := newTestSession("live", "bob")
		require.True(t, r.Register(live))

		evicted := r.SweepTerminal(time.Now(), 30*time.Second)
		require.Len(t, evicted, 1)
		assert.Equal(t, "done", evicted[0].ID)
		assert.Nil(t, r.Get("done"))
		assert.Same(t, live, r.Get("live"))
	})

	t.Run("keeps terminal sessions inside the grace window", func(t *testing.T) {
		r := New()
		done := newTestSession("done", "alice")
		require.True(t, r.Register(done))
		require.True(t, done.MarkFailed(errors.New("gone"), time.Now()))

		evicted := r.SweepTerminal(time.Now(), time.Minute)
		assert.Empty(t, evicted)
		assert.NotNil(t, r.Get("done"))
	})

	t.Run("zero grace evicts immediately", func(t *testing.T) {
		r := New()
		done := newTestSession("done", "alice")
		require.True(t, r.Register(done))
		require.True(t, done.MarkExpired(errors.New("expired"), time.Now()))

		evicted := r.SweepTerminal(time.Now(), 0)
		assert.Len(t, evicted, 1)
		assert.Equal(t, 0, r.Len())
	})
}

func TestSnapshot(t *testing.T) {
	t.Run("copies current state and code", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.BeginPairing())
		require.True(t, s.CodeIssued("AAAA-1111"))

		snap := s.Snapshot()
		assert.Equal(t, "s1", snap.ID)
		assert.Equal(t, "alice", snap.UserID)
		assert.Equal(t, model.StateAwaitingUserConfirmation, snap.State)
		assert.Equal(t, "AAAA-1111", snap.PairingCode)
		assert.Empty(t, snap.LastError)
	})

	t.Run("carries the terminal error message", func(t *testing.T) {
		s := newTestSession("s1", "alice")
		require.True(t, s.MarkFailed(errors.New("deploy handoff failed"), time.Now()))
		snap := s.Snapshot()
		assert.Equal(t, "deploy handoff failed", snap.LastError)
	})
}
