package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4, nil)

	q.Send(OTAProgress(10240))
	q.Send(Temperature(1, 21.5))
	q.Send(OTAEnded())

	want := []Event{OTAProgress(10240), Temperature(1, 21.5), OTAEnded()}
	for i, w := range want {
		got, ok := q.Receive(context.Background())
		if !ok {
			t.Fatalf("Receive() #%d returned no event", i)
		}
		if got != w {
			t.Errorf("Receive() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2, nil)

	if !q.Send(Temperature(0, 1)) || !q.Send(Temperature(1, 2)) {
		t.Fatal("Send() rejected event below capacity")
	}

	done := make(chan bool)
	go func() { done <- q.Send(Temperature(2, 3)) }()

	select {
	case accepted := <-done:
		if accepted {
			t.Error("Send() on full queue = true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("Send() blocked on a full queue")
	}

	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Errorf("Len()/Cap() = %d/%d, want 2/2", q.Len(), q.Cap())
	}
}

func TestQueue_MaxDepth(t *testing.T) {
	q := NewQueue(8, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q.Send(Temperature(i, 0))
	}
	for i := 0; i < 5; i++ {
		q.Receive(ctx)
	}
	q.Send(Temperature(0, 0))

	if q.MaxDepth() != 5 {
		t.Errorf("MaxDepth() = %d, want 5", q.MaxDepth())
	}
}

func TestQueue_ReceiveCancelled(t *testing.T) {
	q := NewQueue(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := q.Receive(ctx); ok {
		t.Error("Receive() on cancelled context returned an event")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 4, 50
	q := NewQueue(producers*perProducer, nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Send(Temperature(p, float64(i)))
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order is preserved.
	last := map[int]float64{0: -1, 1: -1, 2: -1, 3: -1}
	for q.Len() > 0 {
		ev := <-q.Events()
		if ev.Celsius <= last[ev.Index] {
			t.Fatalf("producer %d out of order: %v after %v", ev.Index, ev.Celsius, last[ev.Index])
		}
		last[ev.Index] = ev.Celsius
	}
}

func TestQueue_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	q := NewQueue(1, m)

	q.Send(Temperature(0, 20))
	q.Send(OTAProgress(1))

	if got := testutil.ToFloat64(m.enqueuedTotal.WithLabelValues("temperature")); got != 1 {
		t.Errorf("enqueued{temperature} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.droppedTotal.WithLabelValues("ota")); got != 1 {
		t.Errorf("dropped{ota} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.depth); got != 1 {
		t.Errorf("depth = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.capacity); got != 1 {
		t.Errorf("capacity = %v, want 1", got)
	}

	q.Receive(context.Background())
	if got := testutil.ToFloat64(m.depth); got != 0 {
		t.Errorf("depth after receive = %v, want 0", got)
	}
}

func TestEvent_String(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{OTAProgress(20480), "ota(20480)"},
		{OTAEnded(), "ota(0)"},
		{Temperature(2, 21.456), "temperature[2](21.46)"},
		{Event{Kind: 9}, "kind(9)"},
	}
	for _, tt := range tests {
		if got := tt.ev.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
