package store

import (
	"sync"
	"testing"
	"time"

	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

func snap(active float64) *snapshot.Snapshot {
	b := snapshot.NewBuilder()
	b.Record("connections_active", snapshot.Gauge, nil, active)
	return b.Build(time.Now())
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestCurrent_Empty(t *testing.T) {
	st := New()
	if _, ok := st.Current(); ok {
		t.Fatal("Current on empty store: expected false, got true")
	}
	if st.Fresh(time.Hour) {
		t.Error("empty store should not be fresh")
	}
}

func TestPut_Overwrites(t *testing.T) {
	st := New()
	st.Put(snap(1))
	st.Put(snap(7))

	e, ok := st.Current()
	if !ok {
		t.Fatal("Current: expected entry after two Puts")
	}
	if v, _ := e.Snapshot.Value("connections_active"); v != 7 {
		t.Errorf("connections_active: got %v, want 7", v)
	}
}

func TestPut_NilKeepsPrevious(t *testing.T) {
	st := New()
	st.Put(snap(3))
	st.Put(nil)

	e, ok := st.Current()
	if !ok {
		t.Fatal("Current: expected previous entry to survive nil Put")
	}
	if v, _ := e.Snapshot.Value("connections_active"); v != 3 {
		t.Errorf("connections_active: got %v, want 3", v)
	}
}

func TestFresh(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := New()
	st.now = fixedClock(base)
	st.Put(snap(1))

	st.now = fixedClock(base.Add(30 * time.Second))
	if !st.Fresh(45 * time.Second) {
		t.Error("30s-old snapshot should be fresh at maxAge 45s")
	}
	st.now = fixedClock(base.Add(time.Minute))
	if st.Fresh(45 * time.Second) {
		t.Error("60s-old snapshot should be stale at maxAge 45s")
	}
}

func TestMarkAttempt(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := New()
	if !st.LastAttempt().IsZero() {
		t.Fatal("LastAttempt before any attempt should be zero")
	}
	st.now = fixedClock(base)
	st.MarkAttempt()
	if got := st.LastAttempt(); !got.Equal(base) {
		t.Errorf("LastAttempt: got %v, want %v", got, base)
	}
}

func TestConcurrentPutAndRead(t *testing.T) {
	st := New()
	st.Put(snap(0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			st.Put(snap(float64(i)))
		}(i)
		go func() {
			defer wg.Done()
			e, ok := st.Current()
			if !ok || e.Snapshot.Len() != 1 {
				t.Errorf("reader saw incomplete snapshot: ok=%v", ok)
			}
		}()
	}
	wg.Wait()
}
