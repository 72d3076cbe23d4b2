package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/moegi-dl/moegi/internal/fetch"
	"github.com/moegi-dl/moegi/internal/media"
	"github.com/moegi-dl/moegi/internal/remux"
	"github.com/moegi-dl/moegi/internal/sidecar"
	"github.com/moegi-dl/moegi/internal/utils"
)

// State is the job's position in its lifecycle. Skipped, Done and Failed
// are terminal.
type State string

const (
	StatePlanning    State = "planning"
	StateDownloading State = "downloading"
	StateMerging     State = "merging"
	StateDone        State = "done"
	StateSkipped     State = "skipped"
	StateFailed      State = "failed"
)

// Options is the caller's option set for one episode job.
type Options struct {
	RequireVideo       bool
	RequireAudio       bool
	VideoQuality       int
	AudioQuality       int
	VideoDownloadCodec string
	VideoSaveCodec     string
	AudioDownloadCodec string
	AudioSaveCodec     string
	BlockSize          int64
	NumWorkers         int
	Overwrite          bool
	NoSubtitle         bool
	NoDanmaku          bool
	WithMetadata       bool
	PackSubtitle       bool
	RateLimit          float64 // bytes per second, 0 disables throttling
	Retry              fetch.RetryPolicy
	FFmpegPath         string
}

// Episode bundles everything one unit of work needs: the candidate
// streams, subtitle and overlay data, metadata and target paths.
type Episode struct {
	Videos    []media.Stream
	Audios    []media.Stream
	Subtitles []media.Subtitle
	Danmaku   media.Danmaku
	Metadata  *media.Metadata
	OutputDir string
	TmpDir    string
	Filename  string
}

// Sizer reports a stream resource's total size, or fetch.SizeUnknown.
type Sizer interface {
	ContentLength(url string) (int64, error)
}

// Job drives one episode end to end: stream selection, sidecar
// generation, the interleaved block download and the final remux.
type Job struct {
	ID      string
	Episode Episode
	Options Options

	// OnPhase and OnProgress feed the display; both may be nil.
	OnPhase    func(State)
	OnProgress func(downloaded, total int64)

	client utils.HTTPDoer
	sizer  Sizer
	runner *remux.Runner
	state  State
}

func New(episode Episode, opts Options, client utils.HTTPDoer, sizer Sizer) *Job {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 8
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 512 * 1024
	}
	return &Job{
		ID:      uuid.New().String(),
		Episode: episode,
		Options: opts,
		client:  client,
		sizer:   sizer,
		runner:  remux.NewRunner(opts.FFmpegPath),
		state:   StatePlanning,
	}
}

func (j *Job) State() State {
	return j.state
}

func (j *Job) setState(s State) {
	j.state = s
	if j.OnPhase != nil {
		j.OnPhase(s)
	}
}

func (j *Job) fail(err error) (State, error) {
	j.setState(StateFailed)
	return StateFailed, err
}

// Run executes the job's state machine. The returned state is terminal;
// a Failed state always carries the causing error.
func (j *Job) Run(ctx context.Context) (State, error) {
	log := utils.GetLogger("job").With().Str("id", j.ID).Str("episode", j.Episode.Filename).Logger()
	opts := &j.Options
	ep := &j.Episode

	j.setState(StatePlanning)
	video, err := media.SelectStream(ep.Videos, opts.RequireVideo, opts.VideoQuality, opts.VideoDownloadCodec)
	if err != nil {
		return j.fail(fmt.Errorf("error selecting video stream: %w", err))
	}
	audio, err := media.SelectStream(ep.Audios, opts.RequireAudio, opts.AudioQuality, opts.AudioDownloadCodec)
	if err != nil {
		return j.fail(fmt.Errorf("error selecting audio stream: %w", err))
	}

	if err := os.MkdirAll(ep.OutputDir, 0755); err != nil {
		return j.fail(err)
	}
	outputPath := filepath.Join(ep.OutputDir, ep.Filename+remux.OutputExt(video, audio))
	if _, err := os.Stat(outputPath); err == nil {
		if !opts.Overwrite {
			log.Info().Str("output", outputPath).Msg("Output already exists, skipping")
			j.setState(StateSkipped)
			return StateSkipped, nil
		}
		log.Info().Str("output", outputPath).Msg("Output exists, removing before re-download")
		if err := os.Remove(outputPath); err != nil {
			return j.fail(err)
		}
	}

	subtitleFiles, err := j.writeSidecars(outputPath, video)
	if err != nil {
		return j.fail(err)
	}

	if video == nil && audio == nil {
		log.Warn().Msg("No video or audio stream to download")
		j.setState(StateDone)
		return StateDone, nil
	}

	j.setState(StateDownloading)
	videoPath := filepath.Join(ep.TmpDir, ep.Filename+"_video.m4s")
	audioPath := filepath.Join(ep.TmpDir, ep.Filename+"_audio.m4s")
	if err := j.download(ctx, video, videoPath, audio, audioPath); err != nil {
		log.Error().Err(err).Msg("Download failed, partial buffers kept for resume")
		return j.fail(err)
	}

	j.setState(StateMerging)
	if !opts.PackSubtitle {
		subtitleFiles = nil
	}
	plan := remux.NewPlan(video, videoPath, audio, audioPath, subtitleFiles,
		opts.VideoSaveCodec, opts.AudioSaveCodec, outputPath)
	if err := j.runner.Exec(ctx, plan); err != nil {
		log.Error().Err(err).Msg("Remux failed, source tracks kept for retry")
		return j.fail(err)
	}
	if video != nil {
		os.Remove(videoPath)
	}
	if audio != nil {
		os.Remove(audioPath)
	}
	log.Info().Str("output", outputPath).Msg("Episode complete")
	j.setState(StateDone)
	return StateDone, nil
}

// writeSidecars generates the subtitle, danmaku and metadata files next to
// the output. Subtitle files are produced even when packing is disabled so
// players can pick them up as siblings.
func (j *Job) writeSidecars(outputPath string, video *media.Stream) ([]media.SubtitleFile, error) {
	var subtitleFiles []media.SubtitleFile
	if !j.Options.NoSubtitle {
		for _, sub := range j.Episode.Subtitles {
			path := sidecar.SubtitlePath(outputPath, sub.Lang)
			if err := sidecar.WriteSRT(sub, path); err != nil {
				return nil, err
			}
			subtitleFiles = append(subtitleFiles, media.SubtitleFile{Subtitle: sub, Path: path})
		}
	}
	if !j.Options.NoDanmaku {
		// ASS overlays are rendered against the video canvas, so they
		// need a video stream to make sense.
		if j.Episode.Danmaku.SaveType != "ass" || video != nil {
			if _, err := sidecar.WriteDanmaku(j.Episode.Danmaku, outputPath); err != nil {
				return nil, err
			}
		}
	}
	if j.Options.WithMetadata && j.Episode.Metadata != nil {
		if _, err := sidecar.WriteNFO(*j.Episode.Metadata, outputPath); err != nil {
			return nil, err
		}
	}
	return subtitleFiles, nil
}

// download plans blocks per selected stream, interleaves the two task
// sequences for fair progress and runs them under one admission gate.
func (j *Job) download(ctx context.Context, video *media.Stream, videoPath string, audio *media.Stream, audioPath string) error {
	if err := os.MkdirAll(j.Episode.TmpDir, 0755); err != nil {
		return err
	}

	var buffers []*fetch.Buffer
	defer func() {
		for _, buf := range buffers {
			buf.Close()
		}
	}()

	var taskSeqs [][]fetch.Task
	total := int64(0)
	totalKnown := true
	for _, sel := range []struct {
		stream *media.Stream
		path   string
	}{{video, videoPath}, {audio, audioPath}} {
		if sel.stream == nil {
			continue
		}
		buf, err := fetch.OpenBuffer(sel.path, j.Options.Overwrite)
		if err != nil {
			return err
		}
		buffers = append(buffers, buf)

		size, err := j.sizer.ContentLength(sel.stream.URL)
		if err != nil {
			return fmt.Errorf("error fetching stream size: %v", err)
		}
		if size == fetch.SizeUnknown {
			totalKnown = false
		} else {
			total += size
			if buf.Size() > size {
				// Stale buffer from a different source, start over.
				if err := buf.Close(); err != nil {
					return err
				}
				if buf, err = fetch.OpenBuffer(sel.path, true); err != nil {
					return err
				}
				buffers[len(buffers)-1] = buf
			}
		}

		var tasks []fetch.Task
		for _, block := range fetch.SliceBlocks(buf.Size(), size, j.Options.BlockSize) {
			tasks = append(tasks, fetch.Task{
				URL:     sel.stream.URL,
				Mirrors: sel.stream.Mirrors,
				Block:   block,
				Buf:     buf,
			})
		}
		taskSeqs = append(taskSeqs, tasks)
	}

	trackerTotal := total
	if !totalKnown {
		trackerTotal = fetch.SizeUnknown
	}
	tracker := fetch.NewTracker(buffers, trackerTotal, 500*time.Millisecond, j.OnProgress)
	tracker.Start()
	defer tracker.Stop()

	var limiter *rate.Limiter
	if j.Options.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(j.Options.RateLimit), int(j.Options.RateLimit))
	}
	fetcher := fetch.NewFetcher(j.client, j.Options.Retry, fetch.NewGate(j.Options.NumWorkers), limiter)
	return fetcher.RunBatch(ctx, fetch.Interleave(taskSeqs...))
}
