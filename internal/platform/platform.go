package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrMissingCredential is returned when a client lacks a required credential.
var ErrMissingCredential = errors.New("missing credential")

// Sticker is one file of an outgoing pack.
type Sticker struct {
	Path  string `json:"path"`
	Emoji string `json:"emoji"`
}

// Pack is a converted pack ready to be exported.
type Pack struct {
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Animated bool      `json:"animated"`
	Stickers []Sticker `json:"stickers"`
	// Cover is an optional tray/cover image path.
	Cover string `json:"cover,omitempty"`
}

// PackRef points to an exported pack: a share URL or a local bundle path.
type PackRef struct {
	Platform string `json:"platform"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Count    int    `json:"count"`
}

// Download is the outcome of fetching a pack to a directory.
type Download struct {
	Title  string            `json:"title"`
	Author string            `json:"author"`
	Files  []string          `json:"files"`
	Emoji  map[string]string `json:"emoji,omitempty"`
}

// Uploader publishes a pack and returns where it can be found.
type Uploader interface {
	Upload(ctx context.Context, pack Pack) (*PackRef, error)
}

// Downloader fetches the pack at url into outDir.
type Downloader interface {
	Download(ctx context.Context, url, outDir string) (*Download, error)
}

// Credentials is the opaque key/value bundle stored for one platform.
type Credentials map[string]string

// Require returns the values for keys or an ErrMissingCredential naming
// every absent key.
func (c Credentials) Require(keys ...string) ([]string, error) {
	values := make([]string, len(keys))
	var missing []string
	for i, k := range keys {
		v := c[k]
		if v == "" {
			missing = append(missing, k)
		}
		values[i] = v
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrMissingCredential, missing)
	}
	return values, nil
}

// Get returns the value for key or def when unset.
func (c Credentials) Get(key, def string) string {
	if v := c[key]; v != "" {
		return v
	}
	return def
}
