package observer

import (
	"errors"
	"testing"

	"github.com/dokzlo13/roompaneld/internal/layer"
)

type recordingObserver struct {
	name  string
	calls *[]string
}

func (o *recordingObserver) OnTransition(t Transition) error {
	*o.calls = append(*o.calls, o.name+":"+t.LayerName)
	return nil
}

func TestNotify_OrderAcrossCategories(t *testing.T) {
	r := NewRegistry()
	var calls []string

	r.Register(CategoryRouting, &recordingObserver{name: "router", calls: &calls})
	r.Register(CategoryRoom, &recordingObserver{name: "room1", calls: &calls})
	r.Register(CategoryRoom, &recordingObserver{name: "room2", calls: &calls})

	r.Notify(NewTransition(1, layer.Start, layer.Warming))

	want := []string{"room1:Warming", "room2:Warming", "router:Warming"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestNotify_FailingObserverDoesNotStopOthers(t *testing.T) {
	r := NewRegistry()
	reached := 0

	r.Register(CategoryAudio, ObserverFunc(func(Transition) error { panic("audio controller exploded") }))
	r.Register(CategoryAudio, ObserverFunc(func(Transition) error { return errors.New("camera offline") }))
	r.Register(CategoryAudio, ObserverFunc(func(Transition) error { reached++; return nil }))

	failed := r.Notify(NewTransition(2, layer.PC, layer.Laptop))
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
	if reached != 1 {
		t.Errorf("healthy observer called %d times, want 1", reached)
	}
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(Category(99), ObserverFunc(func(Transition) error { return nil })); err == nil {
		t.Error("unknown category should be rejected")
	}
	if _, err := r.Register(CategoryRoom, nil); err == nil {
		t.Error("nil observer should be rejected")
	}
}

func TestUnregister_ByHandle(t *testing.T) {
	r := NewRegistry()
	calls := 0
	fn := ObserverFunc(func(Transition) error { calls++; return nil })

	h1, _ := r.Register(CategoryCamera, fn)
	r.Register(CategoryCamera, fn)

	if !r.Unregister(CategoryCamera, h1) {
		t.Fatal("Unregister should find the handle")
	}
	if r.Unregister(CategoryCamera, h1) {
		t.Error("second Unregister of the same handle should fail")
	}
	if r.Count(CategoryCamera) != 1 {
		t.Errorf("Count = %d, want 1", r.Count(CategoryCamera))
	}

	r.Notify(NewTransition(3, layer.Laptop, layer.Dialer))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestUnregisterObserver_RemovesFirstMatch(t *testing.T) {
	r := NewRegistry()
	var calls []string
	o := &recordingObserver{name: "dup", calls: &calls}

	r.Register(CategoryRoom, o)
	r.Register(CategoryRoom, o)

	if !r.UnregisterObserver(CategoryRoom, o) {
		t.Fatal("UnregisterObserver should remove an entry")
	}
	if r.Count(CategoryRoom) != 1 {
		t.Errorf("Count = %d, want 1 (only first match removed)", r.Count(CategoryRoom))
	}

	fn := ObserverFunc(func(Transition) error { return nil })
	r.Register(CategoryRoom, fn)
	if r.UnregisterObserver(CategoryRoom, fn) {
		t.Error("func observers cannot be compared and should not be removed")
	}
}

func TestNewTransition(t *testing.T) {
	tr := NewTransition(7, layer.Start, layer.Alarm)
	if tr.ID == "" {
		t.Error("transition ID should be set")
	}
	if tr.LayerName != "Alarm" || tr.Previous != layer.Start || tr.Seq != 7 {
		t.Errorf("unexpected transition %+v", tr)
	}
}
