package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/moegi-dl/moegi/internal/fetch"
	"github.com/moegi-dl/moegi/internal/media"
	"github.com/moegi-dl/moegi/internal/utils"
)

// ErrUnsupportedFormat is returned when the platform does not expose the
// resource as byte-range-addressable DASH media.
var ErrUnsupportedFormat = errors.New("api: resource not available in a segmented format")

const DefaultBaseURL = "https://api.bilibili.com"

var videoCodecNames = map[int]string{
	7:  "avc",
	12: "hevc",
	13: "av1",
}

// Client talks to the platform's metadata and playback-URL endpoints and
// produces MediaStream candidates for the downloader.
type Client struct {
	http    *utils.Client
	baseURL string
}

func NewClient(httpClient *utils.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// View is the episode-level record resolved from a video page URL. Pages
// lists every part of a multi-part video in declared order.
type View struct {
	Avid    string
	Bvid    string
	Cid     string
	Title   string
	Desc    string
	Pic     string
	Pubdate int64
	Pages   []ViewPage
}

// ViewPage is one part of a multi-part video. Index is 1-based.
type ViewPage struct {
	Cid   string
	Part  string
	Index int
}

type viewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Aid     int64  `json:"aid"`
		Bvid    string `json:"bvid"`
		Cid     int64  `json:"cid"`
		Title   string `json:"title"`
		Desc    string `json:"desc"`
		Pic     string `json:"pic"`
		Pubdate int64  `json:"pubdate"`
		Pages   []struct {
			Cid  int64  `json:"cid"`
			Page int    `json:"page"`
			Part string `json:"part"`
		} `json:"pages"`
	} `json:"data"`
}

func (c *Client) GetView(bvid string) (*View, error) {
	var resp viewResponse
	url := fmt.Sprintf("%s/x/web-interface/view?bvid=%s", c.baseURL, bvid)
	if err := c.getJSON(url, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: %s (code %d)", media.ErrStreamUnavailable, resp.Message, resp.Code)
	}
	view := &View{
		Avid:    strconv.FormatInt(resp.Data.Aid, 10),
		Bvid:    resp.Data.Bvid,
		Cid:     strconv.FormatInt(resp.Data.Cid, 10),
		Title:   resp.Data.Title,
		Desc:    resp.Data.Desc,
		Pic:     resp.Data.Pic,
		Pubdate: resp.Data.Pubdate,
	}
	for _, page := range resp.Data.Pages {
		view.Pages = append(view.Pages, ViewPage{
			Cid:   strconv.FormatInt(page.Cid, 10),
			Part:  page.Part,
			Index: page.Page,
		})
	}
	return view, nil
}

type dashStream struct {
	BaseURL   string   `json:"base_url"`
	BackupURL []string `json:"backup_url"`
	CodecID   int      `json:"codecid"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	ID        int      `json:"id"`
}

type dashPayload struct {
	Video []dashStream `json:"video"`
	Audio []dashStream `json:"audio"`
	Flac  *struct {
		Audio *dashStream `json:"audio"`
	} `json:"flac"`
}

type playURLResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Dash *dashPayload `json:"dash"`
	} `json:"data"`
}

// GetPlayURL fetches the DASH stream candidates for one part of a regular
// video. Candidates carry their mirrors, codec label and quality rank.
func (c *Client) GetPlayURL(avid, bvid, cid string) ([]media.Stream, []media.Stream, error) {
	var resp playURLResponse
	url := fmt.Sprintf("%s/x/player/playurl?avid=%s&bvid=%s&cid=%s&qn=127&fnver=0&fnval=4048&fourk=1", c.baseURL, avid, bvid, cid)
	if err := c.getJSON(url, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Code != 0 {
		return nil, nil, fmt.Errorf("%w: %s (code %d)", media.ErrStreamUnavailable, resp.Message, resp.Code)
	}
	return streamsFromDash(resp.Data.Dash)
}

func streamsFromDash(dash *dashPayload) ([]media.Stream, []media.Stream, error) {
	if dash == nil {
		return nil, nil, ErrUnsupportedFormat
	}
	var videos, audios []media.Stream
	for _, v := range dash.Video {
		codec := videoCodecNames[v.CodecID]
		if codec == "" {
			codec = fmt.Sprintf("codec%d", v.CodecID)
		}
		videos = append(videos, media.Stream{
			URL:     v.BaseURL,
			Mirrors: v.BackupURL,
			Codec:   codec,
			Quality: v.ID,
			Width:   v.Width,
			Height:  v.Height,
		})
	}
	for _, a := range dash.Audio {
		audios = append(audios, media.Stream{
			URL:     a.BaseURL,
			Mirrors: a.BackupURL,
			Codec:   "mp4a",
			Quality: a.ID,
		})
	}
	if dash.Flac != nil && dash.Flac.Audio != nil {
		hiRes := dash.Flac.Audio
		audios = append(audios, media.Stream{
			URL:     hiRes.BaseURL,
			Mirrors: hiRes.BackupURL,
			Codec:   media.CodecFLAC,
			Quality: hiRes.ID,
		})
	}
	return videos, audios, nil
}

// Season is a bangumi season with its episode list in broadcast order.
type Season struct {
	Title    string
	Episodes []SeasonEpisode
}

type SeasonEpisode struct {
	EpID      string
	Avid      string
	Bvid      string
	Cid       string
	Title     string
	LongTitle string
}

type seasonResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Title    string `json:"title"`
		Episodes []struct {
			ID        int64  `json:"id"`
			Aid       int64  `json:"aid"`
			Bvid      string `json:"bvid"`
			Cid       int64  `json:"cid"`
			Title     string `json:"title"`
			LongTitle string `json:"long_title"`
		} `json:"episodes"`
	} `json:"result"`
}

// GetSeason resolves a bangumi season by season id or by the id of any of
// its episodes. Exactly one of seasonID and epID must be non-empty.
func (c *Client) GetSeason(seasonID, epID string) (*Season, error) {
	query := "season_id=" + seasonID
	if epID != "" {
		query = "ep_id=" + epID
	}
	var resp seasonResponse
	url := fmt.Sprintf("%s/pgc/view/web/season?%s", c.baseURL, query)
	if err := c.getJSON(url, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: %s (code %d)", media.ErrStreamUnavailable, resp.Message, resp.Code)
	}
	season := &Season{Title: resp.Result.Title}
	for _, ep := range resp.Result.Episodes {
		season.Episodes = append(season.Episodes, SeasonEpisode{
			EpID:      strconv.FormatInt(ep.ID, 10),
			Avid:      strconv.FormatInt(ep.Aid, 10),
			Bvid:      ep.Bvid,
			Cid:       strconv.FormatInt(ep.Cid, 10),
			Title:     ep.Title,
			LongTitle: ep.LongTitle,
		})
	}
	return season, nil
}

type bangumiPlayURLResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Dash *dashPayload `json:"dash"`
	} `json:"result"`
}

// GetBangumiPlayURL fetches DASH candidates for a bangumi episode, which
// the platform serves from a separate endpoint with a result wrapper.
func (c *Client) GetBangumiPlayURL(avid, bvid, cid string) ([]media.Stream, []media.Stream, error) {
	var resp bangumiPlayURLResponse
	url := fmt.Sprintf("%s/pgc/player/web/playurl?avid=%s&bvid=%s&cid=%s&qn=127&fnver=0&fnval=4048&fourk=1", c.baseURL, avid, bvid, cid)
	if err := c.getJSON(url, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Code != 0 {
		return nil, nil, fmt.Errorf("%w: %s (code %d)", media.ErrStreamUnavailable, resp.Message, resp.Code)
	}
	return streamsFromDash(resp.Result.Dash)
}

// GetDanmaku fetches the raw comment-overlay payload for one part. The
// payload is stored as delivered; the sidecar writer only names the file.
func (c *Client) GetDanmaku(cid string) ([]byte, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("%s/x/v1/dm/list.so?oid=%s", c.baseURL, cid), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type subtitleListResponse struct {
	Code int `json:"code"`
	Data struct {
		SubtitleInfo struct {
			Subtitles []struct {
				Lan         string `json:"lan"`
				LanDoc      string `json:"lan_doc"`
				SubtitleURL string `json:"subtitle_url"`
			} `json:"subtitles"`
		} `json:"subtitle"`
	} `json:"data"`
}

type subtitleBodyResponse struct {
	Body []media.SubtitleLine `json:"body"`
}

// GetSubtitles fetches every available subtitle language with its cues.
func (c *Client) GetSubtitles(avid, bvid, cid string) ([]media.Subtitle, error) {
	var list subtitleListResponse
	url := fmt.Sprintf("%s/x/player/v2?aid=%s&bvid=%s&cid=%s", c.baseURL, avid, bvid, cid)
	if err := c.getJSON(url, &list); err != nil {
		return nil, err
	}
	var results []media.Subtitle
	for _, info := range list.Data.SubtitleInfo.Subtitles {
		subURL := info.SubtitleURL
		if len(subURL) >= 2 && subURL[:2] == "//" {
			subURL = "https:" + subURL
		}
		var body subtitleBodyResponse
		if err := c.getJSON(subURL, &body); err != nil {
			continue
		}
		results = append(results, media.Subtitle{
			Lang:     info.LanDoc,
			LangCode: info.Lan,
			Lines:    body.Body,
		})
	}
	return results, nil
}

// ContentLength asks the server how large a stream resource is. Returns
// fetch.SizeUnknown when the server does not report a usable length; the
// planner then falls back to one unbounded request.
func (c *Client) ContentLength(url string) (int64, error) {
	req, err := http.NewRequest("HEAD", url, nil)
	if err != nil {
		return fetch.SizeUnknown, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fetch.SizeUnknown, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fetch.SizeUnknown, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return fetch.SizeUnknown, nil
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || size <= 0 {
		return fetch.SizeUnknown, nil
	}
	return size, nil
}

func (c *Client) getJSON(url string, out any) error {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	return nil
}
