package sidecar

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/moegi-dl/moegi/internal/media"
)

type nfoEpisode struct {
	XMLName   xml.Name `xml:"episodedetails"`
	Title     string   `xml:"title"`
	ShowTitle string   `xml:"showtitle"`
	Plot      string   `xml:"plot"`
	Thumb     string   `xml:"thumb,omitempty"`
	Premiered string   `xml:"premiered,omitempty"`
	DateAdded string   `xml:"dateadded,omitempty"`
}

// WriteNFO generates the media-center description file for the episode.
func WriteNFO(meta media.Metadata, outputPath string) (string, error) {
	record := nfoEpisode{
		Title:     meta.Title,
		ShowTitle: meta.ShowTitle,
		Plot:      meta.Plot,
		Thumb:     meta.Thumb,
		Premiered: meta.Premiered,
		DateAdded: meta.DateAdded,
	}
	body, err := xml.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding metadata: %v", err)
	}
	path := strings.TrimSuffix(outputPath, extOf(outputPath)) + ".nfo"
	content := xml.Header + string(body) + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("error writing metadata file: %v", err)
	}
	return path, nil
}
