// Package extract turns a shared video link into metadata the recipe
// pipeline can work with. Extraction is layered: a yt-dlp probe or a parser
// API where configured, then a page scrape, and finally the bare URL. It
// never fails outright; the weakest tier still yields a usable VideoInfo.
package extract

import "strings"

// Platform identifies the short-video site a link belongs to.
type Platform string

const (
	PlatformDouyin      Platform = "douyin"
	PlatformBilibili    Platform = "bilibili"
	PlatformKuaishou    Platform = "kuaishou"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformUnknown     Platform = "unknown"
)

// DetectPlatform classifies a URL by hostname fragments, including the
// short-link domains each platform uses in share sheets.
func DetectPlatform(rawURL string) Platform {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "douyin.com") || strings.Contains(u, "iesdouyin.com"):
		return PlatformDouyin
	case strings.Contains(u, "bilibili.com") || strings.Contains(u, "b23.tv"):
		return PlatformBilibili
	case strings.Contains(u, "kuaishou.com") || strings.Contains(u, "chenzhongtech.com"):
		return PlatformKuaishou
	case strings.Contains(u, "xiaohongshu.com") || strings.Contains(u, "xhslink.com"):
		return PlatformXiaohongshu
	default:
		return PlatformUnknown
	}
}

// VideoInfo is what extraction produces. MediaURL, when present, is a direct
// playable stream suitable for download or transcription; it is best-effort
// and often absent.
type VideoInfo struct {
	URL         string   `json:"url"`
	Platform    Platform `json:"platform"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Thumbnail   string   `json:"thumbnail"`
	MediaURL    string   `json:"mediaUrl,omitempty"`
	Duration    int      `json:"duration,omitempty"`
	Uploader    string   `json:"uploader,omitempty"`
}
