package sidecar

import (
	"fmt"
	"os"
	"strings"

	"github.com/moegi-dl/moegi/internal/media"
)

// WriteDanmaku stores the overlay payload next to the output file. The
// payload arrives already converted by its collaborator; this only decides
// the file name and extension for the save type.
func WriteDanmaku(d media.Danmaku, outputPath string) (string, error) {
	if len(d.Data) == 0 {
		return "", nil
	}
	ext := "." + d.SaveType
	if d.SaveType == "protobuf" {
		ext = ".pb"
	}
	path := strings.TrimSuffix(outputPath, extOf(outputPath)) + ext
	if err := os.WriteFile(path, d.Data, 0644); err != nil {
		return "", fmt.Errorf("error writing danmaku file: %v", err)
	}
	return path, nil
}
