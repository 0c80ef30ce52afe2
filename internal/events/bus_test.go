package events

import (
	"sync/atomic"
	"testing"
)

func TestBus_InvocationOrder(t *testing.T) {
	bus := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe("topic", func(any) { order = append(order, i) })
	}
	bus.Publish("topic", nil)
	want := []int{0, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBus_ListenerPanicDoesNotAbortOthers(t *testing.T) {
	bus := New()
	var secondRan int32
	bus.Subscribe("topic", func(any) { panic("boom") })
	bus.Subscribe("topic", func(any) { atomic.StoreInt32(&secondRan, 1) })
	bus.Publish("topic", nil)
	if atomic.LoadInt32(&secondRan) != 1 {
		t.Error("second listener should run despite the first panicking")
	}
}

func TestBus_UnsubscribeReturnsToBaseline(t *testing.T) {
	bus := New()
	baseline := bus.ListenerCount(TopicSystemError)
	sub := bus.Subscribe(TopicSystemError, func(any) {})
	if bus.ListenerCount(TopicSystemError) != baseline+1 {
		t.Fatalf("expected listener count to increase")
	}
	bus.Unsubscribe(sub)
	if bus.ListenerCount(TopicSystemError) != baseline {
		t.Errorf("listener count = %d, want baseline %d", bus.ListenerCount(TopicSystemError), baseline)
	}
}

func TestBus_PayloadDelivered(t *testing.T) {
	bus := New()
	var got SystemErrorPayload
	bus.Subscribe(TopicSystemError, func(p any) {
		if sep, ok := p.(SystemErrorPayload); ok {
			got = sep
		}
	})
	bus.Publish(TopicSystemError, SystemErrorPayload{Type: "uncaughtException", Message: "boom"})
	if got.Type != "uncaughtException" || got.Message != "boom" {
		t.Errorf("got %+v", got)
	}
}
