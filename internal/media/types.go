package media

// Stream is one downloadable representation of a track. Mirrors serve
// identical content and are tried in order after the primary URL's retry
// budget is exhausted. Immutable once selected.
type Stream struct {
	URL     string
	Mirrors []string
	Codec   string
	Quality int
	Width   int
	Height  int
}

// SubtitleLine is one cue with start/end times in seconds.
type SubtitleLine struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}

// Subtitle is one language's already-fetched subtitle track.
type Subtitle struct {
	Lang     string
	LangCode string
	Lines    []SubtitleLine
}

// SubtitleFile pairs a subtitle with the sidecar file generated for it.
type SubtitleFile struct {
	Subtitle Subtitle
	Path     string
}

// Danmaku is the comment-overlay payload as delivered by its collaborator;
// the save type decides the sidecar extension (xml, ass or protobuf).
type Danmaku struct {
	SaveType string
	Data     []byte
}

// Metadata is the episode description record written as an NFO sidecar.
type Metadata struct {
	Title     string
	ShowTitle string
	Plot      string
	Thumb     string
	Premiered string
	DateAdded string
}

// Hi-resolution lossless audio carries this codec label; it forces
// container decisions in the remux planner.
const CodecFLAC = "fLaC"
