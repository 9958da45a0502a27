package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a controllable liveness probe.
type fakeTransport struct {
	dead atomic.Bool
}

func (f *fakeTransport) Closed() bool { return f.dead.Load() }

func (f *fakeTransport) kill() { f.dead.Store(true) }

func admitN(t *testing.T, r *Registry, userID string, n int) []*Connection {
	t.Helper()
	conns := make([]*Connection, 0, n)
	for i := 0; i < n; i++ {
		res := r.TryAdmit(userID, &fakeTransport{})
		require.True(t, res.Admitted)
		conns = append(conns, res.Connection)
	}
	return conns
}

func TestAdmitUpToLimit(t *testing.T) {
	r := New(3)
	admitN(t, r, "user-1", 3)

	res := r.TryAdmit("user-1", &fakeTransport{})
	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonConnectionLimitExceeded, res.Reason)
	assert.Equal(t, 3, res.Active)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 3, r.UserCount("user-1"))
}

func TestLimitIsPerUser(t *testing.T) {
	r := New(2)
	admitN(t, r, "user-1", 2)

	res := r.TryAdmit("user-2", &fakeTransport{})
	assert.True(t, res.Admitted)
	assert.Equal(t, 3, r.TotalActive())
}

func TestReleaseFreesSlot(t *testing.T) {
	r := New(1)
	conns := admitN(t, r, "user-1", 1)

	assert.False(t, r.TryAdmit("user-1", &fakeTransport{}).Admitted)
	assert.True(t, r.Release(conns[0].ID))
	assert.True(t, r.TryAdmit("user-1", &fakeTransport{}).Admitted)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := New(2)
	conns := admitN(t, r, "user-1", 1)

	assert.True(t, r.Release(conns[0].ID))
	assert.False(t, r.Release(conns[0].ID))
	assert.False(t, r.Release("no-such-id"))
	assert.Equal(t, 0, r.UserCount("user-1"))
}

// A dead transport's slot is reclaimed by the next admission attempt, so a
// user at the limit whose connection died abruptly can reconnect without
// waiting for the background sweep.
func TestAdmitReclaimsZombies(t *testing.T) {
	r := New(2)
	t1, t2 := &fakeTransport{}, &fakeTransport{}
	require.True(t, r.TryAdmit("user-1", t1).Admitted)
	require.True(t, r.TryAdmit("user-1", t2).Admitted)
	require.False(t, r.TryAdmit("user-1", &fakeTransport{}).Admitted)

	t1.kill()

	res := r.TryAdmit("user-1", &fakeTransport{})
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, res.Reclaimed)
	assert.Equal(t, 2, res.Active)
}

func TestMarkClosedMakesSlotReclaimable(t *testing.T) {
	r := New(1)
	conns := admitN(t, r, "user-1", 1)

	// Transport still probes live, but the session declared it closed.
	conns[0].MarkClosed()

	res := r.TryAdmit("user-1", &fakeTransport{})
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, res.Reclaimed)
}

func TestSweepZombies(t *testing.T) {
	r := New(5)
	transports := make([]*fakeTransport, 3)
	for i := range transports {
		transports[i] = &fakeTransport{}
		require.True(t, r.TryAdmit("user-1", transports[i]).Admitted)
	}

	assert.Equal(t, 0, r.SweepZombies("user-1"))
	transports[0].kill()
	transports[2].kill()
	assert.Equal(t, 2, r.SweepZombies("user-1"))
	assert.Equal(t, 1, r.UserCount("user-1"))
	assert.Equal(t, 0, r.SweepZombies("nobody"))
}

func TestSweepAll(t *testing.T) {
	r := New(5)
	dead1, dead2 := &fakeTransport{}, &fakeTransport{}
	require.True(t, r.TryAdmit("user-1", dead1).Admitted)
	require.True(t, r.TryAdmit("user-1", &fakeTransport{}).Admitted)
	require.True(t, r.TryAdmit("user-2", dead2).Admitted)

	dead1.kill()
	dead2.kill()

	assert.Equal(t, 2, r.SweepAll())
	assert.Equal(t, 1, r.UserCount("user-1"))
	assert.Equal(t, 0, r.UserCount("user-2"))
	assert.Equal(t, 1, r.TotalActive())
}

func TestGet(t *testing.T) {
	r := New(1)
	conns := admitN(t, r, "user-1", 1)

	got, ok := r.Get(conns[0].ID)
	require.True(t, ok)
	assert.Equal(t, "user-1", got.UserID)

	r.Release(conns[0].ID)
	_, ok = r.Get(conns[0].ID)
	assert.False(t, ok)
}

// The limit holds under concurrent admission pressure: with the limit at N,
// never more than N admissions succeed between releases.
func TestConcurrentAdmissionNeverExceedsLimit(t *testing.T) {
	const limit = 4
	const attempts = 200
	r := New(limit)

	var admitted atomic.Int64
	var rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.TryAdmit("user-1", &fakeTransport{})
			if res.Admitted {
				admitted.Add(1)
				assert.LessOrEqual(t, res.Active, limit)
			} else {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
	assert.Equal(t, int64(attempts-limit), rejected.Load())
	assert.Equal(t, limit, r.UserCount("user-1"))
}

// Concurrent admissions racing against zombie reclamation still respect the
// limit exactly.
func TestConcurrentAdmissionWithDyingTransports(t *testing.T) {
	const limit = 2
	r := New(limit)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := &fakeTransport{}
			if res := r.TryAdmit("user-1", tr); res.Admitted {
				tr.kill()
			}
		}()
	}
	wg.Wait()

	// Every admitted transport died, so a full sweep leaves the user empty
	// and fresh admissions succeed again.
	r.SweepAll()
	assert.Equal(t, 0, r.UserCount("user-1"))
	assert.True(t, r.TryAdmit("user-1", &fakeTransport{}).Admitted)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	r := New(1)
	conns := admitN(t, r, "user-1", 1)

	before := conns[0].LastSeen()
	conns[0].Touch()
	assert.False(t, conns[0].LastSeen().Before(before))
}
