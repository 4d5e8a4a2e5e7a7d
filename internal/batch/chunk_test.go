package batch

import (
	"errors"
	"math"
	"testing"
)

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestChunk250By100(t *testing.T) {
	t.Parallel()
	got, err := Chunk(seq(1, 250), 100)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	want := [][]int{seq(1, 100), seq(101, 200), seq(201, 250)}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !equalInts(got[i], want[i]) {
			t.Fatalf("chunk %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestChunkShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 10, sizes: nil},
		{name: "exact", n: 200, size: 100, sizes: []int{100, 100}},
		{name: "smaller than size", n: 3, size: 100, sizes: []int{3}},
		{name: "size one", n: 3, size: 1, sizes: []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Chunk(seq(1, tt.n), tt.size)
			if err != nil {
				t.Fatalf("Chunk: %v", err)
			}
			if len(got) != len(tt.sizes) {
				t.Fatalf("groups = %d, want %d", len(got), len(tt.sizes))
			}
			for i, g := range got {
				if len(g) != tt.sizes[i] {
					t.Fatalf("group %d len = %d, want %d", i, len(g), tt.sizes[i])
				}
			}
		})
	}
}

func TestChunkRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()
	for _, size := range []int{0, -1} {
		if _, err := Chunk([]int{1, 2}, size); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("Chunk(size=%d) err = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestChunkHugeSize(t *testing.T) {
	t.Parallel()
	got, err := Chunk([]int{1, 2, 3}, math.MaxInt)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(got) != 1 || !equalInts(got[0], []int{1, 2, 3}) {
		t.Fatalf("Chunk = %v, want [[1 2 3]]", got)
	}
}

func TestChunkGroupsDoNotAlias(t *testing.T) {
	t.Parallel()
	items := seq(1, 4)
	got, _ := Chunk(items, 2)
	got[0] = append(got[0], 99)
	if items[2] != 3 {
		t.Fatalf("append to first group overwrote input: %v", items)
	}
}
