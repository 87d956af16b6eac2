package ring

import "testing"

func TestBuffer_NewestFirstOrder(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 3; i++ {
		b.Push(i)
	}
	got := b.Newest(0)
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBuffer_EvictsOldestAtCapacity(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 4; i++ {
		b.Push(i)
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	got := b.Newest(0)
	want := []int{4, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBuffer_CapacityPlusOne(t *testing.T) {
	b := New[int](1000)
	for i := 1; i <= 1001; i++ {
		b.Push(i)
	}
	if b.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", b.Len())
	}
	all := b.Newest(0)
	if all[0] != 1001 {
		t.Fatalf("newest = %d, want 1001", all[0])
	}
	if all[len(all)-1] != 2 {
		t.Fatalf("oldest = %d, want 2 (entry 1 evicted)", all[len(all)-1])
	}
	for _, v := range all {
		if v == 1 {
			t.Fatal("entry 1 still present after eviction")
		}
	}
}

func TestBuffer_NewestLimit(t *testing.T) {
	b := New[int](10)
	for i := 1; i <= 7; i++ {
		b.Push(i)
	}
	got := b.Newest(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != 7 || got[2] != 5 {
		t.Fatalf("got %v, want [7 6 5]", got)
	}
}

func TestBuffer_NewestFunc(t *testing.T) {
	b := New[int](10)
	for i := 1; i <= 8; i++ {
		b.Push(i)
	}
	even := b.NewestFunc(2, func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[0] != 8 || even[1] != 6 {
		t.Fatalf("got %v, want [8 6]", even)
	}
}
