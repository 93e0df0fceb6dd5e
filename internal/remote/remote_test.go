package remote

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryLoadUnsetKey(t *testing.T) {
	m := NewMemory()
	v, err := m.Load(context.Background(), "transactions")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v != nil {
		t.Errorf("Load on unset key = %v, want nil", v)
	}
}

func TestMemorySaveNotifiesSubscribers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got []byte
	unsub, err := m.Subscribe("cards", func(v []byte) { got = v })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := m.Save(ctx, "cards", []byte("v1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("subscriber saw %q, want v1", got)
	}
}

func TestMemorySubscribeFiresImmediatelyWhenSet(t *testing.T) {
	m := NewMemory()
	if err := m.Save(context.Background(), "cards", []byte("current")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got []byte
	unsub, err := m.Subscribe("cards", func(v []byte) { got = v })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if string(got) != "current" {
		t.Errorf("subscriber saw %q on subscribe, want current", got)
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	m := NewMemory()
	calls := 0
	unsub, err := m.Subscribe("cards", func([]byte) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsub()

	m.Push("cards", []byte("v1"))
	if calls != 0 {
		t.Errorf("unsubscribed listener called %d times", calls)
	}
}

func TestMemorySaveErr(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("network down")
	m.SaveErr = boom

	if err := m.Save(ctx, "cards", []byte("v1")); !errors.Is(err, boom) {
		t.Fatalf("Save error = %v, want %v", err, boom)
	}
	if v, _ := m.Load(ctx, "cards"); v != nil {
		t.Errorf("failed Save stored value %q", v)
	}

	// Push still works while Save fails, like another client writing.
	var got []byte
	if _, err := m.Subscribe("cards", func(v []byte) { got = v }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m.Push("cards", []byte("remote"))
	if string(got) != "remote" {
		t.Errorf("Push delivered %q, want remote", got)
	}
}
