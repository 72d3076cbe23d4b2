package sidecar

import (
	"fmt"
	"os"
	"strings"

	"github.com/moegi-dl/moegi/internal/media"
)

// SubtitlePath names the sibling subtitle file for a base output path,
// tagged with the subtitle's language.
func SubtitlePath(outputPath, lang string) string {
	base := strings.TrimSuffix(outputPath, extOf(outputPath))
	return fmt.Sprintf("%s_%s.srt", base, lang)
}

func extOf(path string) string {
	if i := strings.LastIndex(path, "."); i > strings.LastIndex(path, "/") {
		return path[i:]
	}
	return ""
}

// WriteSRT renders the subtitle cues as a SubRip file.
func WriteSRT(sub media.Subtitle, path string) error {
	var b strings.Builder
	for i, line := range sub.Lines {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(line.From), srtTimestamp(line.To), line.Content)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("error writing subtitle file: %v", err)
	}
	return nil
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(seconds*1000 + 0.5)
	h := millis / 3600000
	m := millis % 3600000 / 60000
	s := millis % 60000 / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
