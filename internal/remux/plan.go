package remux

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/moegi-dl/moegi/internal/media"
)

// CodecCopy includes a track unmodified because its codec already matches
// the requested save codec.
const CodecCopy = "copy"

// Plan is the full track-assembly directive list for one muxer run.
// Derived once from the finished downloads and never mutated afterwards.
type Plan struct {
	VideoPath  string // empty when no video track
	AudioPath  string
	VideoCodec string // copy or target codec
	AudioCodec string
	Subtitles  []media.SubtitleFile // default subtitle first
	OutputPath string
}

// OutputExt decides the container for the selected streams. Subtitles and
// most codec pairings go to mkv; pure audio keeps its native container,
// and video with lossless audio needs mkv because mp4 cannot hold FLAC.
func OutputExt(video, audio *media.Stream) string {
	if video == nil {
		if audio != nil && audio.Codec == media.CodecFLAC {
			return ".flac"
		}
		return ".aac"
	}
	return ".mkv"
}

// NewPlan builds the remux plan. Tracks whose source codec already equals
// the requested save codec become pass-through copies; the default
// subtitle is chosen and moved to the front of the track order.
func NewPlan(video *media.Stream, videoPath string, audio *media.Stream, audioPath string, subtitles []media.SubtitleFile, videoSaveCodec, audioSaveCodec, outputPath string) Plan {
	p := Plan{OutputPath: outputPath}
	if video != nil {
		p.VideoPath = videoPath
		p.VideoCodec = videoSaveCodec
		if video.Codec == videoSaveCodec {
			p.VideoCodec = CodecCopy
		}
	}
	if audio != nil {
		p.AudioPath = audioPath
		p.AudioCodec = audioSaveCodec
		if audio.Codec == audioSaveCodec {
			p.AudioCodec = CodecCopy
		}
	}
	if len(subtitles) > 0 {
		def := defaultSubtitle(subtitles)
		ordered := make([]media.SubtitleFile, 0, len(subtitles))
		ordered = append(ordered, subtitles[def])
		ordered = append(ordered, subtitles[:def]...)
		ordered = append(ordered, subtitles[def+1:]...)
		p.Subtitles = ordered
	}
	return p
}

// defaultSubtitle prefers the canonical simplified-Chinese mainland tag,
// then any Chinese-language code, then the first subtitle.
func defaultSubtitle(subtitles []media.SubtitleFile) int {
	for i, sub := range subtitles {
		if sub.Subtitle.LangCode == "zh-CN" {
			return i
		}
	}
	for i, sub := range subtitles {
		if strings.Contains(sub.Subtitle.LangCode, "zh") {
			return i
		}
	}
	return 0
}

// Args emits the ordered muxer argument list: inputs in video, audio,
// subtitle order, stream mappings, per-track codec directives and
// per-subtitle language metadata.
func (p Plan) Args() []string {
	var args []string
	inputs := 0
	if p.VideoPath != "" {
		args = append(args, "-i", p.VideoPath)
		inputs++
	}
	if p.AudioPath != "" {
		args = append(args, "-i", p.AudioPath)
		inputs++
	}
	for _, sub := range p.Subtitles {
		args = append(args, "-i", sub.Path)
	}
	for i := 0; i < inputs; i++ {
		args = append(args, "-map", fmt.Sprint(i))
	}
	if p.VideoPath != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.AudioPath != "" {
		args = append(args, "-c:a", p.AudioCodec)
	}
	if len(p.Subtitles) > 0 {
		args = append(args, "-c:s", CodecCopy)
		args = append(args, "-disposition:s:0", "default")
	}
	args = append(args, "-strict", "unofficial")
	if p.VideoPath != "" {
		args = append(args, "-metadata:s:v:0", "VENDOR_ID=")
	}
	if p.AudioPath != "" {
		args = append(args, "-metadata:s:a:0", "VENDOR_ID=")
	}
	for i, sub := range p.Subtitles {
		args = append(args, "-map", fmt.Sprint(inputs+i))
		args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "language="+sub.Subtitle.LangCode)
		args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "title="+sub.Subtitle.Lang)
	}
	args = append(args, "-threads", fmt.Sprint(runtime.NumCPU()))
	args = append(args, "-y", p.OutputPath)
	return args
}
