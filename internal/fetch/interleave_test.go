package fetch

import (
	"reflect"
	"testing"
)

func TestInterleaveRoundRobin(t *testing.T) {
	a := []int{1, 2, 3, 4}
	b := []int{10, 20}
	got := Interleave(a, b)
	want := []int{1, 10, 2, 20, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Interleave = %v, want %v", got, want)
	}
}

func TestInterleaveEmpty(t *testing.T) {
	if got := Interleave[int](); len(got) != 0 {
		t.Fatalf("Interleave of nothing = %v, want empty", got)
	}
	if got := Interleave([]int{}, []int{}); len(got) != 0 {
		t.Fatalf("Interleave of empties = %v, want empty", got)
	}
}

// The merged order restricted to either source must equal that source.
func TestInterleavePreservesSourceOrder(t *testing.T) {
	a := []string{"a0", "a1", "a2", "a3", "a4"}
	b := []string{"b0", "b1"}
	merged := Interleave(a, b)
	if len(merged) != len(a)+len(b) {
		t.Fatalf("merged length = %d, want %d", len(merged), len(a)+len(b))
	}
	var gotA, gotB []string
	for _, v := range merged {
		if v[0] == 'a' {
			gotA = append(gotA, v)
		} else {
			gotB = append(gotB, v)
		}
	}
	if !reflect.DeepEqual(gotA, a) {
		t.Fatalf("restriction to A = %v, want %v", gotA, a)
	}
	if !reflect.DeepEqual(gotB, b) {
		t.Fatalf("restriction to B = %v, want %v", gotB, b)
	}
}
