package sidecar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moegi-dl/moegi/internal/media"
)

func TestWriteSRT(t *testing.T) {
	sub := media.Subtitle{
		Lang:     "中文（简体）",
		LangCode: "zh-CN",
		Lines: []media.SubtitleLine{
			{From: 0, To: 1.5, Content: "第一行"},
			{From: 61.25, To: 63, Content: "第二行"},
		},
	}
	path := filepath.Join(t.TempDir(), "ep_zh.srt")
	if err := WriteSRT(sub, path); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)
	if !strings.Contains(text, "1\n00:00:00,000 --> 00:00:01,500\n第一行") {
		t.Fatalf("unexpected srt content:\n%s", text)
	}
	if !strings.Contains(text, "2\n00:01:01,250 --> 00:01:03,000\n第二行") {
		t.Fatalf("missing second cue:\n%s", text)
	}
}

func TestSubtitlePath(t *testing.T) {
	got := SubtitlePath("/out/Episode 01.mkv", "中文（简体）")
	want := "/out/Episode 01_中文（简体）.srt"
	if got != want {
		t.Fatalf("SubtitlePath = %q, want %q", got, want)
	}
}

func TestWriteDanmaku(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ep.mkv")
	path, err := WriteDanmaku(media.Danmaku{SaveType: "ass", Data: []byte("[Script Info]")}, out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, "ep.ass") {
		t.Fatalf("danmaku path = %q, want *.ass", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	// Empty payload writes nothing.
	path, err = WriteDanmaku(media.Danmaku{SaveType: "ass"}, out)
	if err != nil || path != "" {
		t.Fatalf("empty payload = (%q, %v), want no file", path, err)
	}
}

func TestWriteNFO(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ep.mkv")
	path, err := WriteNFO(media.Metadata{Title: "EP01", ShowTitle: "Show", Plot: "plot"}, out)
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(content)
	if !strings.Contains(text, "<episodedetails>") || !strings.Contains(text, "<title>EP01</title>") {
		t.Fatalf("unexpected nfo content:\n%s", text)
	}
}
