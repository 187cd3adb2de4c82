package signal

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/logging"
	"sticker-convert/internal/metadata"
	"sticker-convert/internal/metrics"
	"sticker-convert/internal/platform"
)

// Name is the platform name used in credentials and metrics.
const Name = "signal"

const (
	DefaultServiceURL = "https://chat.signal.org"
	DefaultCDNURL     = "https://cdn.signal.org"
	shareURL          = "https://signal.art/addstickers/"
)

// ErrInvalidURL is returned for links without pack_id and pack_key.
var ErrInvalidURL = errors.New("not a signal sticker pack link")

// Config configures a Client.
type Config struct {
	// UUID and Password authenticate uploads; downloads need neither.
	UUID       string
	Password   string
	ServiceURL string
	CDNURL     string
	HTTP       *httpclient.Client
}

// Client downloads and uploads Signal sticker packs.
type Client struct {
	uuid     string
	password string
	service  string
	cdn      string
	http     *httpclient.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = DefaultServiceURL
	}
	if cfg.CDNURL == "" {
		cfg.CDNURL = DefaultCDNURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(httpclient.Config{})
	}
	return &Client{
		uuid:     cfg.UUID,
		password: cfg.Password,
		service:  strings.TrimRight(cfg.ServiceURL, "/"),
		cdn:      strings.TrimRight(cfg.CDNURL, "/"),
		http:     cfg.HTTP,
	}
}

// FromCredentials builds a Client from stored uuid and password.
func FromCredentials(creds platform.Credentials, hc *httpclient.Client) *Client {
	return New(Config{UUID: creds.Get("uuid", ""), Password: creds.Get("password", ""), HTTP: hc})
}

// ParseURL extracts pack_id and pack_key from a signal.art or sgnl:// link.
func ParseURL(link string) (packID, packKey string, err error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	q := u.Fragment
	if q == "" {
		q = u.RawQuery
	}
	values, err := url.ParseQuery(q)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	packID, packKey = values.Get("pack_id"), values.Get("pack_key")
	if packID == "" || packKey == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, link)
	}
	return packID, packKey, nil
}

// ShareURL is the signal.art link for a pack.
func ShareURL(packID, packKey string) string {
	return shareURL + "#pack_id=" + packID + "&pack_key=" + packKey
}

func (c *Client) fetch(ctx context.Context, k *keys, packID, name string) ([]byte, error) {
	data, err := c.http.GetBytes(ctx, c.cdn+"/stickers/"+packID+"/"+name, nil)
	if err != nil {
		return nil, err
	}
	return k.decrypt(data)
}

// Download fetches and decrypts the manifest and every sticker of a pack.
func (c *Client) Download(ctx context.Context, link, outDir string) (dl *platform.Download, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.DownloadsTotal.WithLabelValues(Name, status).Inc()
	}()

	packID, packKey, err := ParseURL(link)
	if err != nil {
		return nil, err
	}
	k, err := deriveKeys(packKey)
	if err != nil {
		return nil, err
	}

	raw, err := c.fetch(ctx, k, packID, "manifest.proto")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	m, err := UnmarshalManifest(raw)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	dl = &platform.Download{Title: m.Title, Author: m.Author, Emoji: make(map[string]string)}
	for i, s := range m.Stickers {
		data, err := c.fetch(ctx, k, packID, fmt.Sprintf("full/%d", s.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sticker %d: %w", s.ID, err)
		}
		stem := fmt.Sprintf("%03d", i)
		dst := filepath.Join(outDir, stem+extensionFor(data, s.ContentType))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, err
		}
		dl.Files = append(dl.Files, dst)
		if s.Emoji != "" {
			dl.Emoji[stem] = s.Emoji
		}
	}
	logging.Info("Downloaded %d stickers from signal pack %s", len(dl.Files), packID)
	return dl, nil
}

// extensionFor picks a file extension from the manifest content type or
// the data itself. Animated PNGs keep the .png extension.
func extensionFor(data []byte, contentType string) string {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	switch contentType {
	case "image/webp":
		return formats.WebP
	case "image/gif":
		return formats.GIF
	case "application/x-tgsticker", "application/x-lottie":
		return formats.TGS
	}
	return formats.PNG
}

func contentTypeFor(path string) string {
	switch formats.FromPath(path) {
	case formats.WebP:
		return "image/webp"
	case formats.GIF:
		return "image/gif"
	case formats.APNG:
		return "image/apng"
	}
	return "image/png"
}

// uploadAttrs are the signed S3 form fields for one CDN object.
type uploadAttrs struct {
	ID         uint32 `json:"id"`
	Key        string `json:"key"`
	Credential string `json:"credential"`
	ACL        string `json:"acl"`
	Algorithm  string `json:"algorithm"`
	Date       string `json:"date"`
	Policy     string `json:"policy"`
	Signature  string `json:"signature"`
}

type packForm struct {
	PackID   string        `json:"packId"`
	Manifest uploadAttrs   `json:"manifest"`
	Stickers []uploadAttrs `json:"stickers"`
}

// Upload encrypts and uploads pack. The cover, or the first sticker when
// none is set, is uploaded as an extra object referenced by the manifest.
func (c *Client) Upload(ctx context.Context, pack platform.Pack) (ref *platform.PackRef, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.UploadsTotal.WithLabelValues(Name, status).Inc()
	}()

	if c.uuid == "" || c.password == "" {
		return nil, fmt.Errorf("%w: uuid and password", platform.ErrMissingCredential)
	}
	if len(pack.Stickers) == 0 {
		return nil, errors.New("pack has no stickers")
	}

	cover := pack.Cover
	if cover == "" {
		cover = pack.Stickers[0].Path
	}

	var form packForm
	formURL := fmt.Sprintf("%s/v1/sticker/pack/form/%d", c.service, len(pack.Stickers)+1)
	err = c.http.GetJSON(ctx, formURL, map[string]string{"Authorization": c.basicAuth()}, &form)
	if err != nil {
		return nil, fmt.Errorf("failed to request upload form: %w", err)
	}
	if len(form.Stickers) < len(pack.Stickers)+1 {
		return nil, fmt.Errorf("upload form has %d slots, need %d", len(form.Stickers), len(pack.Stickers)+1)
	}

	packKey, err := NewPackKey()
	if err != nil {
		return nil, err
	}
	k, err := deriveKeys(packKey)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Title: pack.Title, Author: pack.Author}
	for i, s := range pack.Stickers {
		attrs := form.Stickers[i]
		emoji := s.Emoji
		if emoji == "" {
			emoji = metadata.DefaultEmoji
		}
		m.Stickers = append(m.Stickers, ManifestSticker{ID: attrs.ID, Emoji: emoji, ContentType: contentTypeFor(s.Path)})
		if err := c.uploadFile(ctx, k, attrs, s.Path); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", filepath.Base(s.Path), err)
		}
	}
	coverAttrs := form.Stickers[len(pack.Stickers)]
	m.Cover = &ManifestSticker{ID: coverAttrs.ID, Emoji: metadata.DefaultEmoji, ContentType: contentTypeFor(cover)}
	if err := c.uploadFile(ctx, k, coverAttrs, cover); err != nil {
		return nil, fmt.Errorf("failed to upload cover: %w", err)
	}

	if err := c.uploadBlob(ctx, k, form.Manifest, m.Marshal()); err != nil {
		return nil, fmt.Errorf("failed to upload manifest: %w", err)
	}

	logging.Info("Uploaded signal pack %s with %d stickers", form.PackID, len(pack.Stickers))
	return &platform.PackRef{
		Platform: Name,
		Title:    pack.Title,
		URL:      ShareURL(form.PackID, packKey),
		Count:    len(pack.Stickers),
	}, nil
}

func (c *Client) basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.uuid+":"+c.password))
}

func (c *Client) uploadFile(ctx context.Context, k *keys, attrs uploadAttrs, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.uploadBlob(ctx, k, attrs, data)
}

// uploadBlob encrypts data and posts it to the CDN as a signed S3 form.
func (c *Client) uploadBlob(ctx context.Context, k *keys, attrs uploadAttrs, data []byte) error {
	enc, err := k.encrypt(data)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{
		{"key", attrs.Key},
		{"x-amz-credential", attrs.Credential},
		{"acl", attrs.ACL},
		{"x-amz-algorithm", attrs.Algorithm},
		{"x-amz-date", attrs.Date},
		{"policy", attrs.Policy},
		{"x-amz-signature", attrs.Signature},
		{"Content-Type", "application/octet-stream"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", "file")
	if err != nil {
		return err
	}
	part.Write(enc)
	if err := w.Close(); err != nil {
		return err
	}
	payload, contentType := body.Bytes(), w.FormDataContentType()

	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cdn+"/", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
