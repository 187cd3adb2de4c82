package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Name is the platform name used in credentials and metrics.
const Name = "telegram"

const (
	maxTitleLen   = 64
	maxSetNameLen = 64
	addStickerURL = "https://t.me/addstickers/"
	addEmojiURL   = "https://t.me/addemoji/"
)

var (
	// ErrInvalidURL is returned for links that are not sticker set links.
	ErrInvalidURL = errors.New("not a telegram sticker set link")
	// ErrEmptyPack is returned when uploading a pack without stickers.
	ErrEmptyPack = errors.New("pack has no stickers")

	nonWord     = regexp.MustCompile(`[^a-z0-9_]+`)
	underscores = regexp.MustCompile(`_+`)
)

// Config configures a Client.
type Config struct {
	Token  string
	UserID int64
	// Emoji uploads custom emoji sets instead of sticker sets.
	Emoji bool
	// APIEndpoint and FileEndpoint are format strings taking the token and
	// a method or file path. They default to api.telegram.org.
	APIEndpoint  string
	FileEndpoint string
	HTTP         *httpclient.Client
}

// Client uploads and downloads sticker sets through the Bot API.
type Client struct {
	bot          *tgbotapi.BotAPI
	token        string
	userID       int64
	emoji        bool
	fileEndpoint string
	http         *httpclient.Client
}

// New connects to the Bot API and validates the token.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token", platform.ErrMissingCredential)
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(httpclient.Config{})
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.HTTP.HTTPClient())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %s", redact(err, cfg.Token))
	}
	logging.Debug("Authorized on telegram as @%s", bot.Self.UserName)

	return &Client{
		bot:          bot,
		token:        cfg.Token,
		userID:       cfg.UserID,
		emoji:        cfg.Emoji,
		fileEndpoint: cfg.FileEndpoint,
		http:         cfg.HTTP,
	}, nil
}

// FromCredentials builds a Client from stored credentials. user_id is only
// needed for uploads.
func FromCredentials(creds platform.Credentials, hc *httpclient.Client, emoji bool) (*Client, error) {
	values, err := creds.Require("token")
	if err != nil {
		return nil, err
	}
	cfg := Config{Token: values[0], Emoji: emoji, HTTP: hc}
	if v := creds.Get("user_id", ""); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram user_id %q: %w", v, err)
		}
		cfg.UserID = id
	}
	return New(cfg)
}

// BotName returns the bot's username.
func (c *Client) BotName() string {
	return c.bot.Self.UserName
}

// SetName derives a valid sticker set name from a title: lowercase
// letters, digits and single underscores, starting with a letter and
// ending in _by_<bot>.
func SetName(title, bot string) string {
	suffix := "_by_" + bot
	slug := strings.ToLower(title)
	slug = nonWord.ReplaceAllString(slug, "_")
	slug = underscores.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_")
	if slug == "" || slug[0] < 'a' || slug[0] > 'z' {
		slug = "s_" + slug
		slug = strings.TrimRight(slug, "_")
	}
	if room := maxSetNameLen - len(suffix); len(slug) > room {
		slug = strings.TrimRight(slug[:max(room, 1)], "_")
	}
	return slug + suffix
}

// ParseSetName extracts the set name from a t.me link or returns a bare
// name unchanged.
func ParseSetName(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(link, "/") {
		return link, nil
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || (parts[0] != "addstickers" && parts[0] != "addemoji") || parts[1] == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, link)
	}
	return parts[1], nil
}

type inputSticker struct {
	Sticker   string   `json:"sticker"`
	Format    string   `json:"format"`
	EmojiList []string `json:"emoji_list"`
}

func stickerFormat(p string) string {
	switch formats.FromPath(p) {
	case formats.TGS:
		return "animated"
	case formats.WebM:
		return "video"
	}
	return "static"
}

func newInput(i int, s platform.Sticker) (inputSticker, tgbotapi.RequestFile) {
	field := fmt.Sprintf("sticker%d", i)
	emoji := s.Emoji
	if emoji == "" {
		emoji = metadata.DefaultEmoji
	}
	return inputSticker{
			Sticker:   "attach://" + field,
			Format:    stickerFormat(s.Path),
			EmojiList: []string{emoji},
		}, tgbotapi.RequestFile{
			Name: field,
			Data: tgbotapi.FilePath(s.Path),
		}
}

// Upload creates a sticker set from the first sticker and adds the rest.
// Stickers that fail to add are logged and skipped.
func (c *Client) Upload(ctx context.Context, pack platform.Pack) (ref *platform.PackRef, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.UploadsTotal.WithLabelValues(Name, status).Inc()
	}()

	if c.userID == 0 {
		return nil, fmt.Errorf("%w: user_id", platform.ErrMissingCredential)
	}
	if len(pack.Stickers) == 0 {
		return nil, ErrEmptyPack
	}

	name := SetName(pack.Title, c.bot.Self.UserName)
	title := truncate(pack.Title, maxTitleLen)

	first, file := newInput(0, pack.Stickers[0])
	stickers, err := json.Marshal([]inputSticker{first})
	if err != nil {
		return nil, err
	}
	params := tgbotapi.Params{
		"name":     name,
		"title":    title,
		"stickers": string(stickers),
	}
	params.AddNonZero64("user_id", c.userID)
	if c.emoji {
		params["sticker_type"] = "custom_emoji"
	}
	if _, err := c.bot.UploadFiles("createNewStickerSet", params, []tgbotapi.RequestFile{file}); err != nil {
		return nil, fmt.Errorf("failed to create sticker set %s: %s", name, redact(err, c.token))
	}
	logging.Info("Created telegram sticker set %s", name)

	added := 1
	for i, s := range pack.Stickers[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.addSticker(name, i+1, s); err != nil {
			logging.Warn("Failed to add %s to %s: %v", filepath.Base(s.Path), name, err)
			continue
		}
		added++
	}

	if pack.Cover != "" {
		if err := c.setThumbnail(name, pack.Cover); err != nil {
			logging.Warn("Failed to set thumbnail of %s: %v", name, err)
		}
	}

	link := addStickerURL
	if c.emoji {
		link = addEmojiURL
	}
	return &platform.PackRef{Platform: Name, Title: title, URL: link + name, Count: added}, nil
}

func (c *Client) addSticker(name string, i int, s platform.Sticker) error {
	input, file := newInput(i, s)
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{"name": name, "sticker": string(data)}
	params.AddNonZero64("user_id", c.userID)
	if _, err := c.bot.UploadFiles("addStickerToSet", params, []tgbotapi.RequestFile{file}); err != nil {
		return errors.New(redact(err, c.token))
	}
	return nil
}

func (c *Client) setThumbnail(name, cover string) error {
	params := tgbotapi.Params{"name": name, "format": stickerFormat(cover)}
	params.AddNonZero64("user_id", c.userID)
	file := tgbotapi.RequestFile{Name: "thumbnail", Data: tgbotapi.FilePath(cover)}
	if _, err := c.bot.UploadFiles("setStickerSetThumbnail", params, []tgbotapi.RequestFile{file}); err != nil {
		return errors.New(redact(err, c.token))
	}
	return nil
}

type stickerSet struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Stickers []struct {
		FileID     string `json:"file_id"`
		Emoji      string `json:"emoji"`
		IsAnimated bool   `json:"is_animated"`
		IsVideo    bool   `json:"is_video"`
	} `json:"stickers"`
}

// Download fetches every sticker of the set at link into outDir as
// 000.webp, 001.tgs, ...
func (c *Client) Download(ctx context.Context, link, outDir string) (dl *platform.Download, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.DownloadsTotal.WithLabelValues(Name, status).Inc()
	}()

	name, err := ParseSetName(link)
	if err != nil {
		return nil, err
	}
	resp, err := c.bot.MakeRequest("getStickerSet", tgbotapi.Params{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to get sticker set %s: %s", name, redact(err, c.token))
	}
	var set stickerSet
	if err := json.Unmarshal(resp.Result, &set); err != nil {
		return nil, fmt.Errorf("failed to decode sticker set %s: %w", name, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	dl = &platform.Download{Title: set.Title, Emoji: make(map[string]string, len(set.Stickers))}
	for i, s := range set.Stickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: s.FileID})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sticker %d: %s", i, redact(err, c.token))
		}

		ext := path.Ext(file.FilePath)
		switch {
		case ext != "":
		case s.IsAnimated:
			ext = formats.TGS
		case s.IsVideo:
			ext = formats.WebM
		default:
			ext = formats.WebP
		}
		stem := fmt.Sprintf("%03d", i)
		dst := filepath.Join(outDir, stem+ext)
		if _, err := c.http.Download(ctx, fmt.Sprintf(c.fileEndpoint, c.token, file.FilePath), dst); err != nil {
			return nil, fmt.Errorf("failed to download sticker %d: %s", i, redact(err, c.token))
		}
		dl.Files = append(dl.Files, dst)
		if s.Emoji != "" {
			dl.Emoji[stem] = s.Emoji
		}
	}
	logging.Info("Downloaded %d stickers from telegram set %s", len(dl.Files), name)
	return dl, nil
}

// redact keeps the bot token out of error messages and logs.
func redact(err error, token string) string {
	if token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), token, "<token>")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
