package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/moegi-dl/moegi/internal/api"
	"github.com/moegi-dl/moegi/internal/fetch"
	"github.com/moegi-dl/moegi/internal/job"
	"github.com/moegi-dl/moegi/internal/media"
	"github.com/moegi-dl/moegi/internal/output"
	"github.com/moegi-dl/moegi/internal/utils"
)

var (
	numWorkers    int
	numParallel   int
	videoQuality  int
	audioQuality  int
	vcodec        string
	acodec        string
	requireVideo  bool
	requireAudio  bool
	blockSizeMiB  float64
	overwrite     bool
	outputDir     string
	tmpDir        string
	sessdata      string
	proxyURL      string
	noSubtitle    bool
	noDanmaku     bool
	withMetadata  bool
	noPackSub     bool
	rateLimitMiB  float64
	headerArgs    []string
	batchFile     string
	timeout       time.Duration
	retryAttempts int
	ffmpegPath    string
	debug         bool
)

var MoegiVersion = "dev"

var (
	bvidRegex   = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)
	epIDRegex   = regexp.MustCompile(`ep(\d+)`)
	seasonRegex = regexp.MustCompile(`ss(\d+)`)
)

var rootCmd = &cobra.Command{
	Use:     "moegi [flags] <url>...",
	Short:   "Moegi downloads episodes from bilibili-style platforms into playable files",
	Version: MoegiVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 && batchFile == "" {
			output.PrintError("No URL or batch file provided")
			os.Exit(1)
		}

		entries := make([]batchEntry, 0, len(args))
		for _, arg := range args {
			entries = append(entries, batchEntry{URL: arg, Dir: outputDir})
		}
		if batchFile != "" {
			fromFile, err := readBatchFile(batchFile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read batch file: %v", err))
				os.Exit(1)
			}
			entries = append(entries, fromFile...)
		}

		client := utils.NewClient(httpConfig())
		platform := api.NewClient(client, "")
		opts := downloadOptions()

		var jobs []*job.Job
		for _, entry := range entries {
			episodes, err := resolveEntries(platform, entry, opts)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to resolve %s: %v", entry.URL, err))
				os.Exit(1)
			}
			for i := range episodes {
				jobs = append(jobs, job.New(episodes[i], opts, client, platform))
			}
		}

		output.PrintHeader(fmt.Sprintf("Downloading %d episode(s)", len(jobs)))
		if err := job.RunAll(context.Background(), jobs, numParallel); err != nil {
			fmt.Println()
			output.PrintError("Encountered failed download(s); run again to resume")
			os.Exit(1)
		}
		output.PrintSuccess("All episodes complete")
	},
}

func httpConfig() utils.HTTPClientConfig {
	cfg := utils.HTTPClientConfig{
		Timeout:  timeout,
		ProxyURL: proxyURL,
		Referer:  "https://www.bilibili.com",
	}
	if sessdata != "" {
		cfg.Cookie = "SESSDATA=" + sessdata
	}
	if len(headerArgs) > 0 {
		cfg.Headers = utils.ParseHeaderArgs(headerArgs)
	}
	return cfg
}

func downloadOptions() job.Options {
	parseCodecPair := func(pair, fallback string) (string, string) {
		for i := range pair {
			if pair[i] == ':' {
				return pair[:i], pair[i+1:]
			}
		}
		return pair, fallback
	}
	vdl, vsave := parseCodecPair(vcodec, "copy")
	adl, asave := parseCodecPair(acodec, "copy")
	if vsave == "copy" {
		vsave = vdl
	}
	if asave == "copy" {
		asave = adl
	}
	return job.Options{
		RequireVideo:       requireVideo,
		RequireAudio:       requireAudio,
		VideoQuality:       videoQuality,
		AudioQuality:       audioQuality,
		VideoDownloadCodec: vdl,
		VideoSaveCodec:     vsave,
		AudioDownloadCodec: adl,
		AudioSaveCodec:     asave,
		BlockSize:          int64(blockSizeMiB * 1024 * 1024),
		NumWorkers:         numWorkers,
		Overwrite:          overwrite,
		NoSubtitle:         noSubtitle,
		NoDanmaku:          noDanmaku,
		WithMetadata:       withMetadata,
		PackSubtitle:       !noPackSub,
		RateLimit:          rateLimitMiB * 1024 * 1024,
		Retry:              fetch.RetryPolicy{MaxAttempts: retryAttempts, Backoff: 500 * time.Millisecond},
		FFmpegPath:         ffmpegPath,
	}
}

// resolveEntries expands one URL into episode work units: a regular video
// yields one per part, a bangumi season URL yields one per episode, and a
// bangumi episode URL yields just that episode.
func resolveEntries(platform *api.Client, entry batchEntry, opts job.Options) ([]job.Episode, error) {
	if bvid := bvidRegex.FindString(entry.URL); bvid != "" {
		return resolveVideo(platform, entry, opts, bvid)
	}
	if m := epIDRegex.FindStringSubmatch(entry.URL); m != nil {
		return resolveBangumi(platform, entry, opts, "", m[1])
	}
	if m := seasonRegex.FindStringSubmatch(entry.URL); m != nil {
		return resolveBangumi(platform, entry, opts, m[1], "")
	}
	return nil, fmt.Errorf("no recognizable video id in %q", entry.URL)
}

func resolveVideo(platform *api.Client, entry batchEntry, opts job.Options, bvid string) ([]job.Episode, error) {
	view, err := platform.GetView(bvid)
	if err != nil {
		return nil, err
	}
	pages := view.Pages
	if len(pages) == 0 {
		pages = []api.ViewPage{{Cid: view.Cid, Part: view.Title, Index: 1}}
	}
	var episodes []job.Episode
	for _, page := range pages {
		videos, audios, err := platform.GetPlayURL(view.Avid, view.Bvid, page.Cid)
		if err != nil {
			return nil, err
		}
		name := view.Title
		if len(pages) > 1 {
			name = fmt.Sprintf("%s_P%02d_%s", view.Title, page.Index, page.Part)
		}
		meta := &media.Metadata{
			Title:     name,
			ShowTitle: view.Title,
			Plot:      view.Desc,
			Thumb:     view.Pic,
			Premiered: time.Unix(view.Pubdate, 0).Format("2006-01-02"),
			DateAdded: time.Now().Format("2006-01-02 15:04:05"),
		}
		episodes = append(episodes, buildEpisode(platform, entry, opts, videos, audios,
			view.Avid, view.Bvid, page.Cid, name, meta))
	}
	return episodes, nil
}

func resolveBangumi(platform *api.Client, entry batchEntry, opts job.Options, seasonID, epID string) ([]job.Episode, error) {
	season, err := platform.GetSeason(seasonID, epID)
	if err != nil {
		return nil, err
	}
	var episodes []job.Episode
	for _, ep := range season.Episodes {
		if epID != "" && ep.EpID != epID {
			continue
		}
		videos, audios, err := platform.GetBangumiPlayURL(ep.Avid, ep.Bvid, ep.Cid)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s_%s", season.Title, ep.Title)
		if ep.LongTitle != "" {
			name += "_" + ep.LongTitle
		}
		meta := &media.Metadata{
			Title:     name,
			ShowTitle: season.Title,
			DateAdded: time.Now().Format("2006-01-02 15:04:05"),
		}
		episodes = append(episodes, buildEpisode(platform, entry, opts, videos, audios,
			ep.Avid, ep.Bvid, ep.Cid, name, meta))
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("no matching episode in season %q", season.Title)
	}
	return episodes, nil
}

func buildEpisode(platform *api.Client, entry batchEntry, opts job.Options, videos, audios []media.Stream, avid, bvid, cid, name string, meta *media.Metadata) job.Episode {
	log := utils.GetLogger("cmd")
	var subtitles []media.Subtitle
	if !opts.NoSubtitle {
		var err error
		if subtitles, err = platform.GetSubtitles(avid, bvid, cid); err != nil {
			log.Warn().Str("episode", name).Err(err).Msg("Subtitle lookup failed, continuing without")
		}
	}
	var danmaku media.Danmaku
	if !opts.NoDanmaku {
		if data, err := platform.GetDanmaku(cid); err != nil {
			log.Warn().Str("episode", name).Err(err).Msg("Danmaku lookup failed, continuing without")
		} else {
			danmaku = media.Danmaku{SaveType: "xml", Data: data}
		}
	}

	dir := entry.Dir
	if dir == "" {
		dir = outputDir
	}
	tmp := tmpDir
	if tmp == "" {
		tmp = dir
	}
	return job.Episode{
		Videos:    videos,
		Audios:    audios,
		Subtitles: subtitles,
		Danmaku:   danmaku,
		Metadata:  meta,
		OutputDir: dir,
		TmpDir:    filepath.Join(tmp, ".moegi-temp"),
		Filename:  utils.SanitizeFilename(name),
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().IntVarP(&numWorkers, "num-workers", "n", 8, "Maximum concurrent block fetches per episode")
	rootCmd.Flags().IntVarP(&numParallel, "parallel", "j", 1, "Number of episodes to process in parallel")
	rootCmd.Flags().IntVarP(&videoQuality, "video-quality", "q", 127, "Wanted video quality rank (127:8K ... 16:360P)")
	rootCmd.Flags().IntVar(&audioQuality, "audio-quality", 30280, "Wanted audio quality rank (30280:320kbps, 30232:128kbps, 30216:64kbps)")
	rootCmd.Flags().StringVar(&vcodec, "vcodec", "avc:copy", "Video codec as <download>:<save>")
	rootCmd.Flags().StringVar(&acodec, "acodec", "mp4a:copy", "Audio codec as <download>:<save>")
	rootCmd.Flags().BoolVar(&requireVideo, "require-video", true, "Fail when no video stream is available")
	rootCmd.Flags().BoolVar(&requireAudio, "require-audio", true, "Fail when no audio stream is available")
	rootCmd.Flags().Float64VarP(&blockSizeMiB, "block-size", "b", 0.5, "Block size for ranged fetches in MiB")
	rootCmd.Flags().BoolVarP(&overwrite, "overwrite", "w", false, "Overwrite existing output files")
	rootCmd.Flags().StringVarP(&outputDir, "dir", "d", "./", "Output directory")
	rootCmd.Flags().StringVar(&tmpDir, "tmp-dir", "", "Directory for in-progress buffers (defaults to output directory)")
	rootCmd.Flags().StringVarP(&sessdata, "sessdata", "c", "", "SESSDATA cookie value for authenticated streams")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "x", "", "HTTP/HTTPS proxy URL")
	rootCmd.Flags().BoolVar(&noSubtitle, "no-subtitle", false, "Skip subtitle files")
	rootCmd.Flags().BoolVar(&noDanmaku, "no-danmaku", false, "Skip danmaku overlay files")
	rootCmd.Flags().BoolVar(&withMetadata, "with-metadata", false, "Generate NFO metadata files")
	rootCmd.Flags().BoolVar(&noPackSub, "no-pack-subtitle", false, "Do not pack subtitles into the output container")
	rootCmd.Flags().Float64Var(&rateLimitMiB, "rate-limit", 0, "Download rate limit in MiB/s (0 = unlimited)")
	rootCmd.Flags().StringArrayVarP(&headerArgs, "header", "H", nil, "Extra HTTP header in 'Key: Value' form (repeatable)")
	rootCmd.Flags().StringVarP(&batchFile, "batch", "l", "", "Path to YAML file listing episodes to download")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout")
	rootCmd.Flags().IntVar(&retryAttempts, "retries", 5, "Retry attempts per URL before mirror failover")
	rootCmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
