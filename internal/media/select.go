package media

import "errors"

// ErrStreamUnavailable is returned when a required track has no candidate
// stream, either because the platform denied access or because nothing
// matched the constraints.
var ErrStreamUnavailable = errors.New("media: no stream available for required track")

// SelectStream picks the best candidate for the wanted quality rank and
// download codec. Candidates matching the codec are preferred outright;
// within a group the highest quality not above wanted wins, falling back
// to the lowest quality above it. Returns nil when candidates is empty and
// the track is not required.
func SelectStream(candidates []Stream, required bool, quality int, codec string) (*Stream, error) {
	if len(candidates) == 0 {
		if required {
			return nil, ErrStreamUnavailable
		}
		return nil, nil
	}
	best := -1
	for i := range candidates {
		if best == -1 || better(&candidates[i], &candidates[best], quality, codec) {
			best = i
		}
	}
	return &candidates[best], nil
}

func better(a, b *Stream, quality int, codec string) bool {
	aCodec, bCodec := a.Codec == codec, b.Codec == codec
	if aCodec != bCodec {
		return aCodec
	}
	aBelow, bBelow := a.Quality <= quality, b.Quality <= quality
	if aBelow != bBelow {
		return aBelow
	}
	if aBelow {
		return a.Quality > b.Quality // closest from below
	}
	return a.Quality < b.Quality // least overshoot
}
