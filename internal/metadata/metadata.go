package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sticker-convert/internal/formats"
	"sticker-convert/internal/logging"
)

// Metadata file names kept beside the stickers of a pack.
const (
	TitleFile  = "title.txt"
	AuthorFile = "author.txt"
	EmojiFile  = "emoji.txt"
	ResultFile = "export-result.txt"
	coverStem  = "cover"
)

// DefaultEmoji is assigned to stickers without an emoji.txt entry.
const DefaultEmoji = "⭐"

// ErrNoStickers is returned when a directory holds no sticker files.
var ErrNoStickers = errors.New("no sticker files found")

// Meta holds the pack-level metadata of a sticker directory.
type Meta struct {
	Title  string            `json:"title"`
	Author string            `json:"author"`
	Emoji  map[string]string `json:"emoji,omitempty"`
	// Cover is the absolute path of cover.* if present.
	Cover string `json:"cover,omitempty"`
}

// Load reads the metadata files in dir. Missing files leave the
// corresponding field empty.
func Load(dir string) (*Meta, error) {
	m := &Meta{Emoji: map[string]string{}}

	var err error
	if m.Title, err = readText(filepath.Join(dir, TitleFile)); err != nil {
		return nil, err
	}
	if m.Author, err = readText(filepath.Join(dir, AuthorFile)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, EmojiFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", EmojiFile, err)
	default:
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &m.Emoji); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", EmojiFile, err)
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && isCover(e.Name()) {
			m.Cover = filepath.Join(dir, e.Name())
			break
		}
	}
	return m, nil
}

// Save writes title.txt, author.txt and emoji.txt. Empty fields are skipped.
func Save(dir string, m *Meta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if m.Title != "" {
		if err := os.WriteFile(filepath.Join(dir, TitleFile), []byte(m.Title), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", TitleFile, err)
		}
	}
	if m.Author != "" {
		if err := os.WriteFile(filepath.Join(dir, AuthorFile), []byte(m.Author), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", AuthorFile, err)
		}
	}
	if len(m.Emoji) > 0 {
		data, err := json.MarshalIndent(m.Emoji, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, EmojiFile), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", EmojiFile, err)
		}
	}
	return nil
}

// EmojiFor returns the emoji for a sticker file stem, or def when none is set.
func (m *Meta) EmojiFor(stem, def string) string {
	if m != nil {
		if e, ok := m.Emoji[stem]; ok && e != "" {
			return e
		}
	}
	return def
}

// ListStickers returns the sticker files in dir sorted by name. Metadata
// files, the cover image, hidden files and sound clips are skipped.
func ListStickers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || IsReserved(name) {
			continue
		}
		ext := formats.FromPath(name)
		if ext == ".txt" || ext == ".m4a" {
			continue
		}
		if !formats.IsSticker(ext) {
			logging.Debug("Skipping non-sticker file %s", name)
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// IsReserved reports whether name is one of the metadata files.
func IsReserved(name string) bool {
	switch strings.ToLower(name) {
	case TitleFile, AuthorFile, EmojiFile, ResultFile:
		return true
	}
	return isCover(name)
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isCover(name string) bool {
	return strings.EqualFold(Stem(name), coverStem) && formats.GetKind(formats.FromPath(name)) != formats.KindOther
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(string(data)), nil
}
