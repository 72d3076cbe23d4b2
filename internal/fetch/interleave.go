package fetch

// Interleave merges the given sequences round-robin: one element from each
// source in turn, with the remainder of longer sequences appended once the
// shorter ones run out. The relative order within each source sequence is
// never altered.
func Interleave[T any](seqs ...[]T) []T {
	var merged []T
	for i := 0; ; i++ {
		advanced := false
		for _, seq := range seqs {
			if i < len(seq) {
				merged = append(merged, seq[i])
				advanced = true
			}
		}
		if !advanced {
			return merged
		}
	}
}
