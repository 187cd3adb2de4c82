package kakao

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
)

// Name is the platform name used in metrics.
const Name = "kakao"

// DefaultAPIURL serves emoticon item details.
const DefaultAPIURL = "https://e.kakao.com"

// ErrInvalidURL is returned for links that are not e.kakao.com/t/ pages.
var ErrInvalidURL = errors.New("not a kakao emoticon link")

// Config configures a Client.
type Config struct {
	APIURL string
	HTTP   *httpclient.Client
}

// Client downloads static Kakao emoticon packs.
type Client struct {
	api  string
	http *httpclient.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(httpclient.Config{})
	}
	return &Client{api: strings.TrimRight(cfg.APIURL, "/"), http: cfg.HTTP}
}

// ParseItemName extracts the item slug from https://e.kakao.com/t/<slug>.
func ParseItemName(link string) (string, error) {
	link = strings.TrimSpace(link)
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "t" || parts[1] == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, link)
	}
	return parts[1], nil
}

type itemResponse struct {
	Result struct {
		Title         string   `json:"title"`
		Artist        string   `json:"artist"`
		ThumbnailURLs []string `json:"thumbnailUrls"`
	} `json:"result"`
}

// Download fetches the static images of an emoticon pack.
func (c *Client) Download(ctx context.Context, link, outDir string) (dl *platform.Download, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.DownloadsTotal.WithLabelValues(Name, status).Inc()
	}()

	name, err := ParseItemName(link)
	if err != nil {
		return nil, err
	}
	var item itemResponse
	if err := c.http.GetJSON(ctx, c.api+"/api/v1/items/t/"+url.PathEscape(name), nil, &item); err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", name, err)
	}
	if len(item.Result.ThumbnailURLs) == 0 {
		return nil, fmt.Errorf("item %s lists no images", name)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	dl = &platform.Download{Title: item.Result.Title, Author: item.Result.Artist}
	for i, src := range item.Result.ThumbnailURLs {
		ext := formats.FromPath(path.Base(stripQuery(src)))
		if ext == "" {
			ext = formats.PNG
		}
		dst := filepath.Join(outDir, fmt.Sprintf("%03d%s", i, ext))
		if _, err := c.http.Download(ctx, src, dst); err != nil {
			return nil, fmt.Errorf("failed to download image %d: %w", i, err)
		}
		dl.Files = append(dl.Files, dst)
	}
	logging.Info("Downloaded %d emoticons from kakao item %s", len(dl.Files), name)
	return dl, nil
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
