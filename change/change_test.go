package change

import (
	"testing"
	"time"

	"github.com/nimbus-dds/writer/guid"
)

func testGUID() guid.GUID {
	return guid.New(guid.GuidPrefix{1, 2, 3}, guid.EntityID{4, 5, 6, 7})
}

func TestNew_RejectsInvalidKind(t *testing.T) {
	_, err := New(testGUID(), 1, ChangeKind(99), InstanceHandle{}, []byte("x"), 0)
	if err != ErrInvalidKind {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestNew_RejectsInvalidSequenceNumber(t *testing.T) {
	_, err := New(testGUID(), 0, Alive, InstanceHandle{}, []byte("x"), 0)
	if err == nil {
		t.Fatal("expected error for sequence number 0")
	}
}

func TestNew_ValidConstruction(t *testing.T) {
	c, err := New(testGUID(), 1, Alive, InstanceHandle{}, []byte("hi"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.SequenceNumber() != 1 {
		t.Fatalf("unexpected sequence number %d", c.SequenceNumber())
	}
	if string(c.Data()) != "hi" {
		t.Fatalf("unexpected payload %q", c.Data())
	}
	if _, ok := c.SourceTimestamp(); ok {
		t.Fatal("expected no source timestamp by default")
	}
}

func TestCacheChange_DataIsCopied(t *testing.T) {
	payload := []byte("original")
	c, err := New(testGUID(), 1, Alive, InstanceHandle{}, payload, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload[0] = 'X'
	if string(c.Data()) != "original" {
		t.Fatal("expected change's stored payload to be independent of caller's slice")
	}

	got := c.Data()
	got[0] = 'Y'
	if string(c.Data()) != "original" {
		t.Fatal("expected Data() to return a defensive copy")
	}
}

func TestCacheChange_WithSourceTimestamp(t *testing.T) {
	c, _ := New(testGUID(), 1, Alive, InstanceHandle{}, nil, 0)
	ts := time.Unix(1000, 0)
	c2 := c.WithSourceTimestamp(ts)

	if _, ok := c.SourceTimestamp(); ok {
		t.Fatal("expected original change to be unaffected")
	}
	got, ok := c2.SourceTimestamp()
	if !ok || !got.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v (ok=%v)", ts, got, ok)
	}
}

func TestChangeKind_IsKey(t *testing.T) {
	cases := []struct {
		kind ChangeKind
		want bool
	}{
		{Alive, false},
		{NotAliveDisposed, true},
		{NotAliveUnregistered, true},
	}
	for _, c := range cases {
		if got := c.kind.IsKey(); got != c.want {
			t.Errorf("%v.IsKey() = %v, want %v", c.kind, got, c.want)
		}
	}
}
