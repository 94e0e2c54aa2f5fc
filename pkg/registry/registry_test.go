package registry

import (
	"sync"
	"testing"
	"time"
)

func testKey() CorrelationKey {
	return CorrelationKey{ChatID: "chat-1", Sender: "alice"}
}

func TestRegistry_ResolveExactlyOnce(t *testing.T) {
	r := New(0)
	it := r.Create(KindDisambiguation, testKey(), nil, time.Minute)

	const attempts = 50
	var wg sync.WaitGroup
	results := make([]Outcome, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results[i] = r.TryResolve(it.ID, i)
			} else {
				results[i] = r.TryCancel(it.ID)
			}
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, o := range results {
		switch o {
		case Accepted:
			accepted++
		case AlreadyTerminal:
		default:
			t.Fatalf("unexpected outcome %v", o)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one Accepted, got %d", accepted)
	}
}

func TestRegistry_MissingID(t *testing.T) {
	r := New(0)
	if got := r.TryResolve("nope", nil); got != NotFound {
		t.Fatalf("TryResolve on missing id: expected NotFound got %v", got)
	}
	if got := r.TryCancel("nope"); got != NotFound {
		t.Fatalf("TryCancel on missing id: expected NotFound got %v", got)
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("Get on missing id should report not found")
	}
}

func TestRegistry_ExpiryAndSweep(t *testing.T) {
	r := New(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	it := r.Create(KindConfirmation, testKey(), "payload", time.Second)

	// not yet expired
	expired, _ := r.SweepExpired()
	if len(expired) != 0 {
		t.Fatalf("nothing should expire before the deadline")
	}

	now = now.Add(2 * time.Second)
	expired, _ = r.SweepExpired()
	if len(expired) != 1 || expired[0].ID != it.ID {
		t.Fatalf("expected the interaction to expire, got %v", expired)
	}

	// replies after expiry never win
	if got := r.TryResolve(it.ID, 3); got != AlreadyTerminal {
		t.Fatalf("expected AlreadyTerminal after expiry, got %v", got)
	}

	// reading the terminal state releases the entry to the next sweep
	got, ok := r.Get(it.ID)
	if !ok || got.Status != StatusExpired {
		t.Fatalf("expected expired snapshot, got %+v ok=%v", got, ok)
	}
	_, evicted := r.SweepExpired()
	if evicted != 1 {
		t.Fatalf("expected observed terminal entry to be evicted, got %d", evicted)
	}
	if r.Len() != 0 {
		t.Fatalf("registry should be empty, has %d", r.Len())
	}
}

func TestRegistry_LazyExpiryOnResolve(t *testing.T) {
	r := New(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	it := r.Create(KindDisambiguation, testKey(), nil, time.Second)
	now = now.Add(5 * time.Second)
	if got := r.TryResolve(it.ID, 1); got != Expired {
		t.Fatalf("resolve past deadline: expected Expired got %v", got)
	}
	snap, _ := r.Get(it.ID)
	if snap.Status != StatusExpired {
		t.Fatalf("expected expired status, got %s", snap.Status)
	}
}

func TestRegistry_GracePeriodEviction(t *testing.T) {
	r := New(time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }

	it := r.Create(KindDisambiguation, testKey(), nil, time.Hour)
	if got := r.TryResolve(it.ID, 1); got != Accepted {
		t.Fatalf("expected Accepted, got %v", got)
	}

	// unobserved terminal entry survives sweeps within the grace period
	_, evicted := r.SweepExpired()
	if evicted != 0 {
		t.Fatalf("entry evicted before grace elapsed")
	}
	now = now.Add(2 * time.Minute)
	_, evicted = r.SweepExpired()
	if evicted != 1 {
		t.Fatalf("expected eviction after grace, got %d", evicted)
	}
}

func TestRegistry_FindMostRecent(t *testing.T) {
	r := New(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	first := r.Create(KindConfirmation, testKey(), nil, time.Hour)
	now = now.Add(time.Second)
	second := r.Create(KindConfirmation, testKey(), nil, time.Hour)

	got, ok := r.Find(testKey(), KindConfirmation)
	if !ok {
		t.Fatalf("expected a pending interaction")
	}
	if got.ID != second.ID {
		t.Fatalf("expected most recent %s, got %s", second.ID, got.ID)
	}

	// other kinds and keys do not match
	if _, ok := r.Find(testKey(), KindDisambiguation); ok {
		t.Fatalf("kind mismatch should not match")
	}
	if _, ok := r.Find(CorrelationKey{ChatID: "other", Sender: "bob"}, KindConfirmation); ok {
		t.Fatalf("key mismatch should not match")
	}
	_ = first
}

func TestRegistry_PendingByKind(t *testing.T) {
	r := New(0)
	r.Create(KindConfirmation, testKey(), nil, time.Hour)
	r.Create(KindConfirmation, CorrelationKey{ChatID: "c2", Sender: "bob"}, nil, time.Hour)
	d := r.Create(KindDisambiguation, testKey(), nil, time.Hour)
	r.TryCancel(d.ID)

	if got := len(r.PendingByKind(KindConfirmation)); got != 2 {
		t.Fatalf("expected 2 pending confirmations, got %d", got)
	}
	if got := len(r.PendingByKind(KindDisambiguation)); got != 0 {
		t.Fatalf("cancelled interaction should not be pending")
	}
}
