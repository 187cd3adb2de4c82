package discord

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
)

// Name is the platform name used in credentials and metrics.
const Name = "discord"

const (
	DefaultAPIURL   = "https://discord.com/api/v10"
	DefaultMediaURL = "https://media.discordapp.net"
	DefaultCDNURL   = "https://cdn.discordapp.com"
)

// Sticker format types returned by the API.
const (
	formatPNG    = 1
	formatAPNG   = 2
	formatLottie = 3
	formatGIF    = 4
)

var (
	// ErrInvalidURL is returned when no guild id can be found in a link.
	ErrInvalidURL = errors.New("not a discord guild link or id")

	snowflake = regexp.MustCompile(`^\d{5,20}$`)
)

// Config configures a Client.
type Config struct {
	// Token is a bot token, or a user token when User is set.
	Token string
	User  bool
	// Emoji downloads the guild's emojis instead of its stickers.
	Emoji    bool
	APIURL   string
	MediaURL string
	CDNURL   string
	HTTP     *httpclient.Client
}

// Client downloads guild stickers and emojis.
type Client struct {
	auth  string
	emoji bool
	api   string
	media string
	cdn   string
	http  *httpclient.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token", platform.ErrMissingCredential)
	}
	auth := cfg.Token
	if !cfg.User && !strings.HasPrefix(auth, "Bot ") {
		auth = "Bot " + auth
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.MediaURL == "" {
		cfg.MediaURL = DefaultMediaURL
	}
	if cfg.CDNURL == "" {
		cfg.CDNURL = DefaultCDNURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(httpclient.Config{})
	}
	return &Client{
		auth:  auth,
		emoji: cfg.Emoji,
		api:   strings.TrimRight(cfg.APIURL, "/"),
		media: strings.TrimRight(cfg.MediaURL, "/"),
		cdn:   strings.TrimRight(cfg.CDNURL, "/"),
		http:  cfg.HTTP,
	}, nil
}

// FromCredentials builds a Client from a stored token. token_type "user"
// selects a user token.
func FromCredentials(creds platform.Credentials, hc *httpclient.Client, emoji bool) (*Client, error) {
	values, err := creds.Require("token")
	if err != nil {
		return nil, err
	}
	return New(Config{
		Token: values[0],
		User:  creds.Get("token_type", "bot") == "user",
		Emoji: emoji,
		HTTP:  hc,
	})
}

// ParseGuildID accepts a bare guild id or a discord.com/channels/<guild>/... link.
func ParseGuildID(link string) (string, error) {
	link = strings.TrimSpace(link)
	if snowflake.MatchString(link) {
		return link, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "channels" && snowflake.MatchString(parts[1]) {
		return parts[1], nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidURL, link)
}

type guild struct {
	Name string `json:"name"`
}

type sticker struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tags       string `json:"tags"`
	FormatType int    `json:"format_type"`
}

type emoji struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Animated bool   `json:"animated"`
}

// item is one file to fetch.
type item struct {
	url   string
	ext   string
	emoji string
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	return c.http.GetJSON(ctx, c.api+path, map[string]string{"Authorization": c.auth}, v)
}

// Download fetches all stickers (or emojis) of a guild.
func (c *Client) Download(ctx context.Context, link, outDir string) (dl *platform.Download, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.DownloadsTotal.WithLabelValues(Name, status).Inc()
	}()

	id, err := ParseGuildID(link)
	if err != nil {
		return nil, err
	}
	var g guild
	if err := c.getJSON(ctx, "/guilds/"+id, &g); err != nil {
		return nil, fmt.Errorf("failed to fetch guild %s: %w", id, err)
	}

	items, err := c.items(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	dl = &platform.Download{Title: g.Name, Emoji: make(map[string]string)}
	for i, it := range items {
		stem := fmt.Sprintf("%03d", i)
		dst := filepath.Join(outDir, stem+it.ext)
		if _, err := c.http.Download(ctx, it.url, dst); err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", it.url, err)
		}
		dl.Files = append(dl.Files, dst)
		if it.emoji != "" {
			dl.Emoji[stem] = it.emoji
		}
	}
	logging.Info("Downloaded %d files from discord guild %s", len(dl.Files), g.Name)
	return dl, nil
}

func (c *Client) items(ctx context.Context, guildID string) ([]item, error) {
	if c.emoji {
		var emojis []emoji
		if err := c.getJSON(ctx, "/guilds/"+guildID+"/emojis", &emojis); err != nil {
			return nil, fmt.Errorf("failed to list emojis: %w", err)
		}
		items := make([]item, 0, len(emojis))
		for _, e := range emojis {
			ext := formats.PNG
			if e.Animated {
				ext = formats.GIF
			}
			items = append(items, item{url: fmt.Sprintf("%s/emojis/%s%s", c.cdn, e.ID, ext), ext: ext})
		}
		return items, nil
	}

	var stickers []sticker
	if err := c.getJSON(ctx, "/guilds/"+guildID+"/stickers", &stickers); err != nil {
		return nil, fmt.Errorf("failed to list stickers: %w", err)
	}
	items := make([]item, 0, len(stickers))
	for _, s := range stickers {
		var ext string
		switch s.FormatType {
		case formatPNG, formatAPNG:
			ext = formats.PNG
		case formatGIF:
			ext = formats.GIF
		case formatLottie:
			logging.Warn("Skipping lottie sticker %s (%s)", s.Name, s.ID)
			continue
		default:
			logging.Warn("Skipping sticker %s with unknown format %d", s.Name, s.FormatType)
			continue
		}
		items = append(items, item{
			url:   fmt.Sprintf("%s/stickers/%s%s", c.media, s.ID, ext),
			ext:   ext,
			emoji: s.Tags,
		})
	}
	return items, nil
}
