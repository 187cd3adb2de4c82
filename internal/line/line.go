package line

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"

	"github.com/PuerkitoBio/goquery"
)

// Name is the platform name used in metrics.
const Name = "line"

const (
	DefaultCDNURL   = "https://stickershop.line-scdn.net"
	DefaultStoreURL = "https://store.line.me"
)

// ErrInvalidURL is returned for links without a sticker product id.
var ErrInvalidURL = errors.New("not a line sticker link")

var productPath = regexp.MustCompile(`/stickershop/product/(\d+)`)

// Config configures a Client.
type Config struct {
	// Lang is the preferred language for titles, e.g. "en" or "ja".
	Lang     string
	CDNURL   string
	StoreURL string
	HTTP     *httpclient.Client
}

// Client downloads LINE sticker packs.
type Client struct {
	lang  string
	cdn   string
	store string
	http  *httpclient.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.CDNURL == "" {
		cfg.CDNURL = DefaultCDNURL
	}
	if cfg.StoreURL == "" {
		cfg.StoreURL = DefaultStoreURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(httpclient.Config{})
	}
	return &Client{
		lang:  cfg.Lang,
		cdn:   strings.TrimRight(cfg.CDNURL, "/"),
		store: strings.TrimRight(cfg.StoreURL, "/"),
		http:  cfg.HTTP,
	}
}

// ParseProductID accepts a store link or a bare numeric id.
func ParseProductID(link string) (int, error) {
	link = strings.TrimSpace(link)
	if id, err := strconv.Atoi(link); err == nil && id > 0 {
		return id, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	m := productPath.FindStringSubmatch(u.Path)
	if m == nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidURL, link)
	}
	return strconv.Atoi(m[1])
}

// productInfo is the productInfo.meta document.
type productInfo struct {
	PackageID    int               `json:"packageId"`
	Title        map[string]string `json:"title"`
	Author       map[string]string `json:"author"`
	HasAnimation bool              `json:"hasAnimation"`
	ResourceType string            `json:"stickerResourceType"`
	Stickers     []struct {
		ID int `json:"id"`
	} `json:"stickers"`
}

func (p *productInfo) animated() bool {
	switch p.ResourceType {
	case "ANIMATION", "ANIMATION_SOUND", "POPUP", "POPUP_SOUND":
		return true
	}
	return p.HasAnimation
}

// localized picks lang, then English, then Japanese, then anything.
func localized(m map[string]string, lang string) string {
	for _, k := range []string{lang, "en", "ja"} {
		if v := m[k]; v != "" {
			return v
		}
	}
	for _, v := range m {
		return v
	}
	return ""
}

// StickerURL returns the image URL for one sticker.
func (c *Client) StickerURL(id int, animated bool) string {
	name := "sticker@2x.png"
	if animated {
		name = "sticker_animation@2x.png"
	}
	return fmt.Sprintf("%s/stickershop/v1/sticker/%d/iphone/%s", c.cdn, id, name)
}

// Download fetches every sticker of a pack. Animated packs are saved as
// APNG with a .png extension.
func (c *Client) Download(ctx context.Context, link, outDir string) (dl *platform.Download, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.DownloadsTotal.WithLabelValues(Name, status).Inc()
	}()

	id, err := ParseProductID(link)
	if err != nil {
		return nil, err
	}

	var info productInfo
	metaURL := fmt.Sprintf("%s/stickershop/v1/product/%d/iphone/productInfo.meta", c.cdn, id)
	if err := c.http.GetJSON(ctx, metaURL, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch product info: %w", err)
	}

	dl = &platform.Download{
		Title:  localized(info.Title, c.lang),
		Author: localized(info.Author, c.lang),
	}
	if title, author, err := c.storeInfo(ctx, id); err != nil {
		logging.Debug("LINE store page for %d unavailable: %v", id, err)
	} else {
		if title != "" {
			dl.Title = title
		}
		if author != "" {
			dl.Author = author
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	animated := info.animated()
	for i, s := range info.Stickers {
		dst := filepath.Join(outDir, fmt.Sprintf("%03d%s", i, formats.PNG))
		if _, err := c.http.Download(ctx, c.StickerURL(s.ID, animated), dst); err != nil {
			return nil, fmt.Errorf("failed to download sticker %d: %w", s.ID, err)
		}
		dl.Files = append(dl.Files, dst)
	}
	logging.Info("Downloaded %d stickers from LINE pack %d", len(dl.Files), id)
	return dl, nil
}

// storeInfo scrapes the localized title and author from the store page.
func (c *Client) storeInfo(ctx context.Context, id int) (title, author string, err error) {
	page := fmt.Sprintf("%s/stickershop/product/%d/%s", c.store, id, c.lang)
	body, err := c.http.GetBytes(ctx, page, map[string]string{"Accept-Language": c.lang})
	if err != nil {
		return "", "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	title = strings.TrimSpace(doc.Find(`[data-test="sticker-name-title"]`).First().Text())
	author = strings.TrimSpace(doc.Find(`[data-test="sticker-author"]`).First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	return title, author, nil
}
