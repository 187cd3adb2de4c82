package imessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"sticker-convert/internal/platform"
)

type fakeIcons struct{ made int }

func (f *fakeIcons) MakeIcon(_ context.Context, _, dst string, w, h int, _ int64) error {
	f.made++
	return os.WriteFile(dst, []byte(fmt.Sprintf("%dx%d", w, h)), 0o644)
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatal(err)
	}
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	var stickers []platform.Sticker
	for i, ext := range []string{".png", ".png", ".gif"} {
		p := filepath.Join(dir, fmt.Sprintf("in%d%s", i, ext))
		os.WriteFile(p, []byte(fmt.Sprintf("img %d", i)), 0o644)
		stickers = append(stickers, platform.Sticker{Path: p, Emoji: "😀"})
	}
	icons := &fakeIcons{}
	out := filepath.Join(dir, "out")

	ref, err := New(out, GridForPreset("imessage_large"), icons).Upload(context.Background(), platform.Pack{Title: "Cats", Stickers: stickers})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ref.URL != filepath.Join(out, "Cats") || ref.Count != 3 {
		t.Errorf("ref = %+v", ref)
	}

	pack := filepath.Join(ref.URL, catalogDir, packDir)
	var contents struct {
		Properties map[string]string   `json:"properties"`
		Stickers   []map[string]string `json:"stickers"`
	}
	readJSON(t, filepath.Join(pack, "Contents.json"), &contents)
	if contents.Properties["grid-size"] != GridLarge {
		t.Errorf("grid-size = %q", contents.Properties["grid-size"])
	}
	if len(contents.Stickers) != 3 || contents.Stickers[2]["filename"] != "002.sticker" {
		t.Errorf("stickers = %v", contents.Stickers)
	}

	data, err := os.ReadFile(filepath.Join(pack, "002.sticker", "002.gif"))
	if err != nil || string(data) != "img 2" {
		t.Errorf("sticker 2 = %q, %v", data, err)
	}
	var sticker struct {
		Properties map[string]string `json:"properties"`
	}
	readJSON(t, filepath.Join(pack, "000.sticker", "Contents.json"), &sticker)
	if sticker.Properties["filename"] != "000.png" || sticker.Properties["accessibility-label"] != "😀" {
		t.Errorf("sticker properties = %v", sticker.Properties)
	}

	if icons.made != len(iconSet()) {
		t.Errorf("made %d icons, want %d", icons.made, len(iconSet()))
	}
	icon, _ := os.ReadFile(filepath.Join(ref.URL, catalogDir, iconSetDir, "icon-1024x768.png"))
	if string(icon) != "1024x768" {
		t.Errorf("marketing icon = %q", icon)
	}
}

func TestUploadEmpty(t *testing.T) {
	if _, err := New(t.TempDir(), "", &fakeIcons{}).Upload(context.Background(), platform.Pack{}); !errors.Is(err, ErrEmptyPack) {
		t.Errorf("err = %v, want ErrEmptyPack", err)
	}
}

func TestGridForPreset(t *testing.T) {
	tests := map[string]string{
		"imessage_small":  GridSmall,
		"imessage_medium": GridRegular,
		"imessage_large":  GridLarge,
		"telegram":        GridRegular,
	}
	for preset, want := range tests {
		if got := GridForPreset(preset); got != want {
			t.Errorf("GridForPreset(%q) = %q, want %q", preset, got, want)
		}
	}
}
