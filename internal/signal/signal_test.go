package signal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"sticker-convert/internal/httpclient"
	"sticker-convert/internal/platform"
)

func TestEncryptDecrypt(t *testing.T) {
	key, err := NewPackKey()
	if err != nil {
		t.Fatal(err)
	}
	k, err := deriveKeys(key)
	if err != nil {
		t.Fatal(err)
	}

	for _, size := range []int{0, 1, 15, 16, 17, 1000} {
		plain := bytes.Repeat([]byte{0xab}, size)
		enc, err := k.encrypt(plain)
		if err != nil {
			t.Fatal(err)
		}
		if want := ivSize + (size/16+1)*16 + macSize; len(enc) != want {
			t.Errorf("size %d: ciphertext is %d bytes, want %d", size, len(enc), want)
		}
		got, err := k.decrypt(enc)
		if err != nil {
			t.Fatalf("size %d: decrypt error = %v", size, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, _ := NewPackKey()
	k, _ := deriveKeys(key)
	enc, _ := k.encrypt([]byte("sticker"))

	enc[ivSize] ^= 1
	if _, err := k.decrypt(enc); !errors.Is(err, ErrBadMAC) {
		t.Errorf("err = %v, want ErrBadMAC", err)
	}
	if _, err := k.decrypt(enc[:10]); !errors.Is(err, ErrBadMAC) {
		t.Errorf("short blob err = %v, want ErrBadMAC", err)
	}

	other, _ := NewPackKey()
	k2, _ := deriveKeys(other)
	enc[ivSize] ^= 1
	if _, err := k2.decrypt(enc); !errors.Is(err, ErrBadMAC) {
		t.Errorf("wrong key err = %v, want ErrBadMAC", err)
	}
}

func TestDeriveKeysValidates(t *testing.T) {
	for _, key := range []string{"", "zz", strings.Repeat("a", 62)} {
		if _, err := deriveKeys(key); !errors.Is(err, ErrBadKey) {
			t.Errorf("deriveKeys(%q) err = %v, want ErrBadKey", key, err)
		}
	}
}

func TestDeriveKeysIsDeterministic(t *testing.T) {
	key := strings.Repeat("01", 32)
	a, _ := deriveKeys(key)
	b, _ := deriveKeys(key)
	if !bytes.Equal(a.aes, b.aes) || !bytes.Equal(a.mac, b.mac) {
		t.Error("same pack key derived different keys")
	}
	if bytes.Equal(a.aes, a.mac) {
		t.Error("aes and mac keys are equal")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	m := &Manifest{
		Title:  "Cats",
		Author: "someone",
		Cover:  &ManifestSticker{ID: 3, Emoji: "⭐"},
		Stickers: []ManifestSticker{
			{ID: 0, Emoji: "🐱", ContentType: "image/webp"},
			{ID: 1, Emoji: "😺"},
			{ID: 300},
		},
	}
	got, err := UnmarshalManifest(m.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != m.Title || got.Author != m.Author || *got.Cover != *m.Cover {
		t.Errorf("got %+v, want %+v", got, m)
	}
	if len(got.Stickers) != 3 {
		t.Fatalf("got %d stickers", len(got.Stickers))
	}
	for i := range m.Stickers {
		if got.Stickers[i] != m.Stickers[i] {
			t.Errorf("sticker %d = %+v, want %+v", i, got.Stickers[i], m.Stickers[i])
		}
	}
}

func TestManifestSkipsUnknownFields(t *testing.T) {
	b := (&Manifest{Title: "x"}).Marshal()
	// field 9, fixed32
	b = append(b, 9<<3|5, 1, 2, 3, 4)
	m, err := UnmarshalManifest(b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Title != "x" {
		t.Errorf("Title = %q", m.Title)
	}

	if _, err := UnmarshalManifest([]byte{1<<3 | 2, 50}); err == nil {
		t.Error("expected error for truncated field")
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		in       string
		id, key  string
		wantFail bool
	}{
		{"https://signal.art/addstickers/#pack_id=abc&pack_key=def", "abc", "def", false},
		{"sgnl://addstickers/?pack_id=abc&pack_key=def", "abc", "def", false},
		{"https://signal.art/addstickers/#pack_id=abc", "", "", true},
		{"https://example.com/", "", "", true},
	}
	for _, tt := range tests {
		id, key, err := ParseURL(tt.in)
		if tt.wantFail {
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("ParseURL(%q) err = %v, want ErrInvalidURL", tt.in, err)
			}
			continue
		}
		if err != nil || id != tt.id || key != tt.key {
			t.Errorf("ParseURL(%q) = %q, %q, %v", tt.in, id, key, err)
		}
	}
}

// fakeSignal serves the upload form and stores CDN objects in memory.
type fakeSignal struct {
	mu      sync.Mutex
	objects map[string][]byte
	auth    string
}

func newFakeSignal(t *testing.T) (*fakeSignal, *httptest.Server) {
	t.Helper()
	f := &fakeSignal{objects: make(map[string][]byte)}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/sticker/pack/form/{n}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		n, _ := strconv.Atoi(r.PathValue("n"))
		form := packForm{PackID: "feedface", Manifest: uploadAttrs{Key: "stickers/feedface/manifest.proto", Policy: "p"}}
		for i := 0; i < n; i++ {
			form.Stickers = append(form.Stickers, uploadAttrs{ID: uint32(i), Key: fmt.Sprintf("stickers/feedface/full/%d", i), Policy: "p"})
		}
		json.NewEncoder(w).Encode(form)
	})
	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("policy") != "p" || r.FormValue("Content-Type") != "application/octet-stream" {
			http.Error(w, "bad form", http.StatusForbidden)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var buf bytes.Buffer
		buf.ReadFrom(file)
		f.mu.Lock()
		f.objects[r.FormValue("key")] = buf.Bytes()
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /stickers/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data, ok := f.objects[strings.TrimPrefix(r.URL.Path, "/")]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestUploadThenDownload(t *testing.T) {
	fake, srv := newFakeSignal(t)
	c := New(Config{
		UUID:       "uuid",
		Password:   "pw",
		ServiceURL: srv.URL,
		CDNURL:     srv.URL,
		HTTP:       httpclient.New(httpclient.Config{RequestsPerSecond: 1000}),
	})

	dir := t.TempDir()
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 40)...)
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), bytes.Repeat([]byte{2}, 40)...)
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.webp")
	os.WriteFile(a, png, 0o644)
	os.WriteFile(b, webp, 0o644)

	ref, err := c.Upload(context.Background(), platform.Pack{
		Title:    "Cats",
		Author:   "me",
		Stickers: []platform.Sticker{{Path: a, Emoji: "🐱"}, {Path: b}},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	fake.mu.Lock()
	auth, stored := fake.auth, len(fake.objects)
	fake.mu.Unlock()
	if want := "Basic " + base64.StdEncoding.EncodeToString([]byte("uuid:pw")); auth != want {
		t.Errorf("Authorization = %q, want %q", auth, want)
	}
	if !strings.HasPrefix(ref.URL, "https://signal.art/addstickers/#pack_id=feedface&pack_key=") || ref.Count != 2 {
		t.Errorf("ref = %+v", ref)
	}
	// two stickers, the cover and the manifest
	if stored != 4 {
		t.Errorf("stored %d objects, want 4", stored)
	}

	out := t.TempDir()
	dl, err := c.Download(context.Background(), ref.URL, out)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if dl.Title != "Cats" || dl.Author != "me" {
		t.Errorf("download = %+v", dl)
	}
	want := []string{filepath.Join(out, "000.png"), filepath.Join(out, "001.webp")}
	if len(dl.Files) != 2 || dl.Files[0] != want[0] || dl.Files[1] != want[1] {
		t.Fatalf("Files = %v, want %v", dl.Files, want)
	}
	got, _ := os.ReadFile(dl.Files[1])
	if !bytes.Equal(got, webp) {
		t.Error("downloaded webp differs from upload")
	}
	if dl.Emoji["000"] != "🐱" || dl.Emoji["001"] != "⭐" {
		t.Errorf("Emoji = %v", dl.Emoji)
	}
}

func TestUploadNeedsCredentials(t *testing.T) {
	c := New(Config{})
	_, err := c.Upload(context.Background(), platform.Pack{Stickers: []platform.Sticker{{Path: "a.png"}}})
	if !errors.Is(err, platform.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		data []byte
		ct   string
		want string
	}{
		{[]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "", ".webp"},
		{[]byte("GIF89a......"), "", ".gif"},
		{[]byte("\x89PNG\r\n\x1a\n"), "", ".png"},
		{nil, "image/webp", ".webp"},
		{nil, "image/apng", ".png"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.data, tt.ct); got != tt.want {
			t.Errorf("extensionFor(%q, %q) = %s, want %s", tt.data, tt.ct, got, tt.want)
		}
	}
}
