package skiplist

import "testing"

func collect(t *testing.T, l *List[string]) []string {
	t.Helper()
	out := make([]string, l.Len())
	for i := uint(0); i < l.Len(); i++ {
		v, err := l.At(i)
		if err != nil {
			t.Fatalf("At(%d) failed: %v", i, err)
		}
		out[i] = v
	}
	return out
}

func assertSeq(t *testing.T, l *List[string], want ...string) {
	t.Helper()
	got := collect(t, l)
	if len(got) != len(want) {
		t.Fatalf("sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
}

func TestSkipList_InsertRemoveScenario(t *testing.T) {
	// Insert "a","b","c","d" at indices 0,0,1,3 in turn, yielding
	// "b","c","a","d"; Remove(2) yields "a" and leaves "b","c","d".
	l := New[string]()

	if err := l.Insert(0, "a"); err != nil {
		t.Fatalf("Insert(0,a) failed: %v", err)
	}
	assertSeq(t, l, "a")

	if err := l.Insert(0, "b"); err != nil {
		t.Fatalf("Insert(0,b) failed: %v", err)
	}
	assertSeq(t, l, "b", "a")

	if err := l.Insert(1, "c"); err != nil {
		t.Fatalf("Insert(1,c) failed: %v", err)
	}
	assertSeq(t, l, "b", "c", "a")

	if err := l.Insert(3, "d"); err != nil {
		t.Fatalf("Insert(3,d) failed: %v", err)
	}
	assertSeq(t, l, "b", "c", "a", "d")

	removed, err := l.Remove(2)
	if err != nil {
		t.Fatalf("Remove(2) failed: %v", err)
	}
	if removed != "a" {
		t.Errorf("Remove(2) = %q, want %q", removed, "a")
	}
	assertSeq(t, l, "b", "c", "d")
}

func TestSkipList_ReplaceDoesNotShift(t *testing.T) {
	l := New[string]()
	l.Insert(0, "a")
	l.Insert(1, "b")
	l.Insert(2, "c")

	prev, err := l.Replace(1, "z")
	if err != nil {
		t.Fatalf("Replace(1,z) failed: %v", err)
	}
	if prev != "b" {
		t.Errorf("Replace(1,z) returned %q, want %q", prev, "b")
	}
	assertSeq(t, l, "a", "z", "c")
}

func TestSkipList_LenTracksInsertsAndRemoves(t *testing.T) {
	l := New[int]()
	for i := 0; i < 50; i++ {
		if err := l.Insert(uint(i), i); err != nil {
			t.Fatalf("Insert(%d) failed: %v", i, err)
		}
	}
	if l.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", l.Len())
	}
	for i := 0; i < 50; i++ {
		v, err := l.At(uint(i))
		if err != nil || v != i {
			t.Fatalf("At(%d) = %v, err=%v; want %d", i, v, err, i)
		}
	}
	for i := 0; i < 25; i++ {
		if _, err := l.Remove(0); err != nil {
			t.Fatalf("Remove(0) failed at iteration %d: %v", i, err)
		}
	}
	if l.Len() != 25 {
		t.Fatalf("Len() after removals = %d, want 25", l.Len())
	}
	for i := 0; i < 25; i++ {
		v, err := l.At(uint(i))
		if err != nil || v != i+25 {
			t.Fatalf("At(%d) after removals = %v, err=%v; want %d", i, v, err, i+25)
		}
	}
}

func TestSkipList_OutOfRangeErrors(t *testing.T) {
	l := New[int]()
	if _, err := l.At(0); err == nil {
		t.Error("At(0) on empty list should error")
	}
	if err := l.Insert(1, 0); err == nil {
		t.Error("Insert beyond Len() should error")
	}
	if _, err := l.Remove(0); err == nil {
		t.Error("Remove on empty list should error")
	}
	l.Insert(0, 1)
	if _, err := l.Replace(5, 2); err == nil {
		t.Error("Replace out of range should error")
	}
}

func TestSkipList_InsertAtEndAppends(t *testing.T) {
	l := New[int]()
	for i := 0; i < 10; i++ {
		if err := l.Insert(l.Len(), i); err != nil {
			t.Fatalf("Insert(%d,%d) failed: %v", l.Len(), i, err)
		}
	}
	for i := 0; i < 10; i++ {
		v, _ := l.At(uint(i))
		if v != i {
			t.Fatalf("At(%d) = %d, want %d", i, v, i)
		}
	}
}

func TestSkipList_RemoveInsertEqualsReplace(t *testing.T) {
	a := New[string]()
	b := New[string]()
	for i, v := range []string{"p", "q", "r", "s"} {
		a.Insert(uint(i), v)
		b.Insert(uint(i), v)
	}

	if _, err := a.Remove(2); err != nil {
		t.Fatalf("Remove(2) failed: %v", err)
	}
	if err := a.Insert(2, "Z"); err != nil {
		t.Fatalf("Insert(2,Z) failed: %v", err)
	}
	if _, err := b.Replace(2, "Z"); err != nil {
		t.Fatalf("Replace(2,Z) failed: %v", err)
	}

	assertSeq(t, a, "p", "q", "Z", "s")
	assertSeq(t, b, "p", "q", "Z", "s")
}

func TestSkipList_MatchesSliceModel(t *testing.T) {
	l := New[int]()
	var model []int

	pos := 0
	for i := 0; i < 500; i++ {
		pos = (pos*31 + 17) % (len(model) + 1)
		if err := l.Insert(uint(pos), i); err != nil {
			t.Fatalf("Insert(%d,%d) failed: %v", pos, i, err)
		}
		model = append(model, 0)
		copy(model[pos+1:], model[pos:])
		model[pos] = i
	}
	if int(l.Len()) != len(model) {
		t.Fatalf("Len() = %d, want %d", l.Len(), len(model))
	}
	for i := range model {
		v, err := l.At(uint(i))
		if err != nil || v != model[i] {
			t.Fatalf("At(%d) = %d, err=%v; want %d", i, v, err, model[i])
		}
	}

	for i := 0; i < 250; i++ {
		pos = (pos*13 + 7) % len(model)
		v, err := l.Remove(uint(pos))
		if err != nil {
			t.Fatalf("Remove(%d) failed: %v", pos, err)
		}
		if v != model[pos] {
			t.Fatalf("Remove(%d) = %d, want %d", pos, v, model[pos])
		}
		model = append(model[:pos], model[pos+1:]...)
	}
	for i := range model {
		v, err := l.At(uint(i))
		if err != nil || v != model[i] {
			t.Fatalf("At(%d) after removals = %d, err=%v; want %d", i, v, err, model[i])
		}
	}
}
