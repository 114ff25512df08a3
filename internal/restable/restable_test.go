package restable

import "testing"

func TestPushGetDelete(t *testing.T) {
	tbl := New[int](nil)

	h, ok := tbl.Push(42)
	if !ok {
		t.Fatal("push failed")
	}
	if !h.Valid() {
		t.Fatal("handle should be valid")
	}

	v, ok := tbl.Get(h)
	if !ok || *v != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}

	deleted, ok := tbl.Delete(h)
	if !ok || deleted != 42 {
		t.Fatalf("delete: got (%v, %v), want (42, true)", deleted, ok)
	}

	if _, ok := tbl.Get(h); ok {
		t.Fatal("handle should no longer resolve after delete")
	}
}

func TestHandlesAreUnique(t *testing.T) {
	tbl := New[string](nil)

	h1, _ := tbl.Push("a")
	h2, _ := tbl.Push("b")
	if h1 == h2 {
		t.Fatal("distinct pushes should yield distinct handles")
	}

	v1, _ := tbl.Get(h1)
	v2, _ := tbl.Get(h2)
	if *v1 != "a" || *v2 != "b" {
		t.Fatal("handles resolved to the wrong records")
	}
}

func TestMaxEntries(t *testing.T) {
	tbl := New[int](nil)
	tbl.SetMaxEntries(2)

	if _, ok := tbl.Push(1); !ok {
		t.Fatal("first push should succeed")
	}
	if _, ok := tbl.Push(2); !ok {
		t.Fatal("second push should succeed")
	}
	if _, ok := tbl.Push(3); ok {
		t.Fatal("third push should fail once the table is full")
	}
	if n := tbl.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
}

func TestCloseInvokesOnRelease(t *testing.T) {
	var released []int
	tbl := New[int](func(v *int) { released = append(released, *v) })

	tbl.Push(1)
	tbl.Push(2)
	tbl.Close()

	if len(released) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(released))
	}
	if tbl.Len() != 0 {
		t.Fatal("table should be empty after Close")
	}
}

func TestInvalidHandleZeroValue(t *testing.T) {
	var h Handle[int]
	if h.Valid() {
		t.Fatal("zero-value handle should not be valid")
	}

	tbl := New[int](nil)
	if _, ok := tbl.Get(h); ok {
		t.Fatal("zero-value handle should never resolve")
	}
}
