package job

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/moegi-dl/moegi/internal/fetch"
	"github.com/moegi-dl/moegi/internal/media"
)

type fakeSizer struct {
	sizes map[string]int64
}

func (s *fakeSizer) ContentLength(url string) (int64, error) {
	if size, ok := s.sizes[url]; ok {
		return size, nil
	}
	return fetch.SizeUnknown, nil
}

func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write(data)
			return
		}
		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end, _ := strconv.ParseInt(parts[1], 10, 64)
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
}

// fakeMuxer writes a shell script that copies the first -i input to the
// final argument, standing in for ffmpeg.
func fakeMuxer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := `#!/bin/sh
in=""
prev=""
out=""
for a in "$@"; do
  if [ "$prev" = "-i" ] && [ -z "$in" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOptions(ffmpeg string) Options {
	return Options{
		RequireVideo:       true,
		VideoQuality:       80,
		AudioQuality:       30280,
		VideoDownloadCodec: "avc",
		VideoSaveCodec:     "avc",
		AudioDownloadCodec: "mp4a",
		AudioSaveCodec:     "mp4a",
		BlockSize:          1024,
		NumWorkers:         4,
		PackSubtitle:       true,
		Retry:              fetch.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond},
		FFmpegPath:         ffmpeg,
	}
}

func videoEpisode(t *testing.T, url string) Episode {
	dir := t.TempDir()
	return Episode{
		Videos:    []media.Stream{{URL: url, Codec: "avc", Quality: 80, Width: 1920, Height: 1080}},
		OutputDir: filepath.Join(dir, "out"),
		TmpDir:    filepath.Join(dir, "tmp"),
		Filename:  "EP01",
	}
}

func TestJobDownloadsAndMerges(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i % 256)
	}
	server := rangeServer(t, data)
	defer server.Close()

	ep := videoEpisode(t, server.URL)
	sizer := &fakeSizer{sizes: map[string]int64{server.URL: int64(len(data))}}
	j := New(ep, testOptions(fakeMuxer(t)), http.DefaultClient, sizer)

	state, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state != StateDone {
		t.Fatalf("state = %s, want done", state)
	}

	outputPath := filepath.Join(ep.OutputDir, "EP01.mkv")
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("output content does not match source data")
	}
	// Temp track removed after a successful merge.
	if _, err := os.Stat(filepath.Join(ep.TmpDir, "EP01_video.m4s")); !os.IsNotExist(err) {
		t.Fatal("temp video buffer should be deleted after merging")
	}
}

// A job interrupted after a strict prefix resumes from the on-disk length
// and produces a byte-identical file.
func TestJobResume(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte((i * 7) % 256)
	}
	server := rangeServer(t, data)
	defer server.Close()

	ep := videoEpisode(t, server.URL)
	if err := os.MkdirAll(ep.TmpDir, 0755); err != nil {
		t.Fatal(err)
	}
	// Simulate a previous run that wrote the first three blocks.
	if err := os.WriteFile(filepath.Join(ep.TmpDir, "EP01_video.m4s"), data[:3072], 0644); err != nil {
		t.Fatal(err)
	}

	sizer := &fakeSizer{sizes: map[string]int64{server.URL: int64(len(data))}}
	j := New(ep, testOptions(fakeMuxer(t)), http.DefaultClient, sizer)
	state, err := j.Run(context.Background())
	if err != nil || state != StateDone {
		t.Fatalf("Run = (%s, %v), want done", state, err)
	}

	got, err := os.ReadFile(filepath.Join(ep.OutputDir, "EP01.mkv"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resumed output is not byte-identical to the source")
	}
}

func TestJobSkippedIdempotent(t *testing.T) {
	server := rangeServer(t, []byte("data"))
	defer server.Close()

	ep := videoEpisode(t, server.URL)
	outputPath := filepath.Join(ep.OutputDir, "EP01.mkv")
	if err := os.MkdirAll(ep.OutputDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outputPath, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := testOptions(fakeMuxer(t))
	opts.Overwrite = false
	sizer := &fakeSizer{}
	for run := 0; run < 2; run++ {
		j := New(ep, opts, http.DefaultClient, sizer)
		state, err := j.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if state != StateSkipped {
			t.Fatalf("run %d: state = %s, want skipped", run, state)
		}
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "existing" {
		t.Fatal("existing output was modified by a skipped job")
	}
	if _, err := os.Stat(filepath.Join(ep.TmpDir, "EP01_video.m4s")); !os.IsNotExist(err) {
		t.Fatal("skipped job must not create temp buffers")
	}
}

func TestJobFailsOnExhaustionKeepingBuffers(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer bad.Close()

	ep := videoEpisode(t, bad.URL)
	sizer := &fakeSizer{sizes: map[string]int64{bad.URL: 4096}}
	j := New(ep, testOptions(fakeMuxer(t)), http.DefaultClient, sizer)

	state, err := j.Run(context.Background())
	if state != StateFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	if !errors.Is(err, fetch.ErrDownloadExhausted) {
		t.Fatalf("error = %v, want ErrDownloadExhausted", err)
	}
	// Partial buffer stays for a future resume.
	if _, err := os.Stat(filepath.Join(ep.TmpDir, "EP01_video.m4s")); err != nil {
		t.Fatal("partial buffer must be retained after a failed batch")
	}
}

func TestJobRequiredStreamMissing(t *testing.T) {
	ep := Episode{
		OutputDir: filepath.Join(t.TempDir(), "out"),
		TmpDir:    filepath.Join(t.TempDir(), "tmp"),
		Filename:  "EP01",
	}
	j := New(ep, testOptions(fakeMuxer(t)), http.DefaultClient, &fakeSizer{})
	state, err := j.Run(context.Background())
	if state != StateFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	if !errors.Is(err, media.ErrStreamUnavailable) {
		t.Fatalf("error = %v, want ErrStreamUnavailable", err)
	}
}

func TestJobAudioOnlyContainer(t *testing.T) {
	data := make([]byte, 2048)
	server := rangeServer(t, data)
	defer server.Close()

	dir := t.TempDir()
	ep := Episode{
		Audios:    []media.Stream{{URL: server.URL, Codec: media.CodecFLAC, Quality: 30251}},
		OutputDir: filepath.Join(dir, "out"),
		TmpDir:    filepath.Join(dir, "tmp"),
		Filename:  "EP01",
	}
	opts := testOptions(fakeMuxer(t))
	opts.RequireVideo = false
	opts.RequireAudio = true
	opts.AudioSaveCodec = media.CodecFLAC
	sizer := &fakeSizer{sizes: map[string]int64{server.URL: int64(len(data))}}

	j := New(ep, opts, http.DefaultClient, sizer)
	state, err := j.Run(context.Background())
	if err != nil || state != StateDone {
		t.Fatalf("Run = (%s, %v), want done", state, err)
	}
	if _, err := os.Stat(filepath.Join(ep.OutputDir, "EP01.flac")); err != nil {
		t.Fatal("audio-only lossless job should produce a .flac container")
	}
}

func TestJobWritesSubtitleSidecars(t *testing.T) {
	data := make([]byte, 1024)
	server := rangeServer(t, data)
	defer server.Close()

	ep := videoEpisode(t, server.URL)
	ep.Subtitles = []media.Subtitle{
		{Lang: "English", LangCode: "en", Lines: []media.SubtitleLine{{From: 0, To: 1, Content: "hi"}}},
	}
	sizer := &fakeSizer{sizes: map[string]int64{server.URL: int64(len(data))}}
	j := New(ep, testOptions(fakeMuxer(t)), http.DefaultClient, sizer)
	if state, err := j.Run(context.Background()); state != StateDone {
		t.Fatalf("Run = (%s, %v), want done", state, err)
	}
	if _, err := os.Stat(filepath.Join(ep.OutputDir, "EP01_English.srt")); err != nil {
		t.Fatal("subtitle sidecar missing")
	}
}
