package metadata

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	in := &Meta{
		Title:  "Cats",
		Author: "someone",
		Emoji:  map[string]string{"001": "😺", "002": "😿"},
	}
	if err := Save(dir, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	touch(t, dir, "cover.png")

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Title != "Cats" || got.Author != "someone" {
		t.Errorf("got title=%q author=%q", got.Title, got.Author)
	}
	if !reflect.DeepEqual(got.Emoji, in.Emoji) {
		t.Errorf("Emoji = %v, want %v", got.Emoji, in.Emoji)
	}
	if got.Cover != filepath.Join(dir, "cover.png") {
		t.Errorf("Cover = %q", got.Cover)
	}
}

func TestLoadEmptyDir(t *testing.T) {
	m, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Title != "" || m.Author != "" || m.Cover != "" || len(m.Emoji) != 0 {
		t.Errorf("expected empty metadata, got %+v", m)
	}
}

func TestLoadTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TitleFile), []byte("  My Pack \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Title != "My Pack" {
		t.Errorf("Title = %q", m.Title)
	}
}

func TestLoadInvalidEmoji(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, EmojiFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected error for invalid emoji.txt")
	}
}

func TestListStickers(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"b.webp", "a.png", "c.tgs", "d.webm",
		"title.txt", "author.txt", "emoji.txt", "export-result.txt",
		"cover.png", "notes.txt", "sound.m4a", ".DS_Store", "readme.md",
	)
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListStickers(dir)
	if err != nil {
		t.Fatalf("ListStickers failed: %v", err)
	}
	var names []string
	for _, p := range got {
		names = append(names, filepath.Base(p))
	}
	want := []string{"a.png", "b.webp", "c.tgs", "d.webm"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListStickers = %v, want %v", names, want)
	}
}

func TestListStickersMissingDir(t *testing.T) {
	if _, err := ListStickers(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestEmojiFor(t *testing.T) {
	m := &Meta{Emoji: map[string]string{"001": "😺", "002": ""}}
	tests := []struct {
		stem string
		want string
	}{
		{"001", "😺"},
		{"002", DefaultEmoji},
		{"003", DefaultEmoji},
	}
	for _, tt := range tests {
		if got := m.EmojiFor(tt.stem, DefaultEmoji); got != tt.want {
			t.Errorf("EmojiFor(%q) = %q, want %q", tt.stem, got, tt.want)
		}
	}

	var nilMeta *Meta
	if got := nilMeta.EmojiFor("001", "x"); got != "x" {
		t.Errorf("nil Meta EmojiFor = %q", got)
	}
}

func TestIsReservedAndStem(t *testing.T) {
	for name, want := range map[string]bool{
		"title.txt":  true,
		"Title.TXT":  true,
		"cover.webp": true,
		"cover.txt":  false,
		"001.png":    false,
	} {
		if got := IsReserved(name); got != want {
			t.Errorf("IsReserved(%q) = %v, want %v", name, got, want)
		}
	}
	if got := Stem("/a/b/001.webp"); got != "001" {
		t.Errorf("Stem = %q", got)
	}
}
