package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Extractor resolves video metadata tier by tier. Each tier fills what it
// can; a tier that fails only logs and falls through to the next.
type Extractor struct {
	ytdlp      *YtDlp
	apiURL     string
	apiKey     string
	apiType    string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewExtractor(ytdlp *YtDlp, apiURL, apiKey, apiType string, log *logrus.Entry) *Extractor {
	return &Extractor{
		ytdlp:      ytdlp,
		apiURL:     apiURL,
		apiKey:     apiKey,
		apiType:    apiType,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// Extract never returns an error: when every tier fails the caller still gets
// a VideoInfo carrying the URL and the detected platform.
func (e *Extractor) Extract(ctx context.Context, rawURL string) *VideoInfo {
	info := &VideoInfo{
		URL:      rawURL,
		Platform: DetectPlatform(rawURL),
	}

	if e.apiType == "ytdlp" && e.ytdlp != nil && e.ytdlp.Available() {
		if probed, err := e.ytdlp.Probe(ctx, rawURL); err == nil {
			mergeInfo(info, probed)
			if info.Title != "" {
				return info
			}
		} else {
			e.log.WithError(err).Debug("yt-dlp probe failed")
		}
	}

	if e.apiURL != "" {
		if parsed, err := e.callParserAPI(ctx, rawURL); err == nil {
			mergeInfo(info, parsed)
			if info.Title != "" {
				return info
			}
		} else {
			e.log.WithError(err).Debug("parser API failed")
		}
	}

	if scraped, err := e.scrape(ctx, rawURL); err == nil {
		mergeInfo(info, scraped)
	} else {
		e.log.WithError(err).Debug("page scrape failed")
	}
	return info
}

// mergeInfo copies non-empty fields from src, keeping anything a stronger
// tier already filled. Media URLs that are not absolute http(s) links (local
// paths, data URIs) are discarded.
func mergeInfo(dst, src *VideoInfo) {
	if src == nil {
		return
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.Thumbnail == "" {
		dst.Thumbnail = src.Thumbnail
	}
	if dst.MediaURL == "" && strings.HasPrefix(src.MediaURL, "http") {
		dst.MediaURL = src.MediaURL
	}
	if dst.Duration == 0 {
		dst.Duration = src.Duration
	}
	if dst.Uploader == "" {
		dst.Uploader = src.Uploader
	}
}

func (e *Extractor) callParserAPI(ctx context.Context, rawURL string) (*VideoInfo, error) {
	endpoint := e.apiURL
	if strings.Contains(endpoint, "?") {
		endpoint += "&url=" + url.QueryEscape(rawURL)
	} else {
		endpoint += "?url=" + url.QueryEscape(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parser API returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if e.apiType == "ucmao" {
		return parseUcmaoResponse(body)
	}
	return parseGenericResponse(body)
}

type ucmaoResponse struct {
	Succ    *bool  `json:"succ"`
	Retcode *int   `json:"retcode"`
	Msg     string `json:"msg"`
	Data    struct {
		Title    string `json:"title"`
		Cover    string `json:"cover"`
		VideoURL string `json:"video_url"`
		Author   string `json:"author"`
	} `json:"data"`
}

func parseUcmaoResponse(body []byte) (*VideoInfo, error) {
	var parsed ucmaoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode parser response: %w", err)
	}
	if parsed.Succ != nil && !*parsed.Succ {
		return nil, fmt.Errorf("parser API rejected the url: %s", parsed.Msg)
	}
	if parsed.Retcode != nil && *parsed.Retcode != 0 {
		return nil, fmt.Errorf("parser API error %d: %s", *parsed.Retcode, parsed.Msg)
	}
	return &VideoInfo{
		Title:     strings.TrimSpace(parsed.Data.Title),
		Thumbnail: parsed.Data.Cover,
		MediaURL:  parsed.Data.VideoURL,
		Uploader:  parsed.Data.Author,
	}, nil
}

// Field aliases across the various third-party parser services. The first
// present non-empty alias wins.
var (
	titleAliases     = []string{"title", "video_title", "name"}
	descAliases      = []string{"description", "desc", "intro"}
	thumbnailAliases = []string{"thumbnail", "cover", "pic", "image"}
	mediaAliases     = []string{"media_url", "video_url", "video_direct_url", "nwm_video_url", "play_url", "url", "audio_url"}
	uploaderAliases  = []string{"author", "uploader", "nickname"}
)

func parseGenericResponse(body []byte) (*VideoInfo, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode parser response: %w", err)
	}
	// Responses often nest the payload under "data".
	if data, ok := parsed["data"].(map[string]interface{}); ok {
		parsed = data
	}
	info := &VideoInfo{
		Title:       strings.TrimSpace(firstString(parsed, titleAliases)),
		Description: strings.TrimSpace(firstString(parsed, descAliases)),
		Thumbnail:   firstString(parsed, thumbnailAliases),
		MediaURL:    firstString(parsed, mediaAliases),
		Uploader:    firstString(parsed, uploaderAliases),
	}
	if info.Title == "" && info.MediaURL == "" {
		return nil, fmt.Errorf("parser response carried no usable fields")
	}
	return info, nil
}

func firstString(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Suffixes the platforms append to page titles.
var titleSuffixes = []string{" - 抖音", "_哔哩哔哩_bilibili", " - 快手", " - 小红书"}

func (e *Extractor) scrape(ctx context.Context, rawURL string) (*VideoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page fetch returned HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		title = strings.TrimSpace(og)
	}
	for _, suffix := range titleSuffixes {
		title = strings.TrimSuffix(title, suffix)
	}

	desc, _ := doc.Find(`meta[name="description"]`).Attr("content")
	if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && og != "" {
		desc = og
	}
	thumb, _ := doc.Find(`meta[property="og:image"]`).Attr("content")

	return &VideoInfo{
		Title:       title,
		Description: strings.TrimSpace(desc),
		Thumbnail:   thumb,
	}, nil
}
