package packer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"sticker-convert/internal/metadata"
	"sticker-convert/internal/probe"
)

func makeEntries(pattern string) []Entry {
	entries := make([]Entry, len(pattern))
	for i, c := range pattern {
		entries[i] = Entry{Path: fmt.Sprintf("%03d", i), Animated: c == 'a', Size: 10}
	}
	return entries
}

func titlesOf(packs []Pack) []string {
	var out []string
	for _, p := range packs {
		out = append(out, p.Title)
	}
	return out
}

func sizesOf(packs []Pack) []int {
	var out []int
	for _, p := range packs {
		out = append(out, len(p.Entries))
	}
	return out
}

func TestSplitCombined(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		per    int
		sizes  []int
		titles []string
	}{
		{"empty", 0, 30, nil, nil},
		{"under cap", 5, 30, []int{5}, []string{"pack"}},
		{"exact cap", 30, 30, []int{30}, []string{"pack"}},
		{"one over", 31, 30, []int{30, 1}, []string{"pack", "pack-1"}},
		{"several", 95, 30, []int{30, 30, 30, 5}, []string{"pack", "pack-1", "pack-2", "pack-3"}},
		{"cap of one", 3, 1, []int{1, 1, 1}, []string{"pack", "pack-1", "pack-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern := ""
			for i := 0; i < tt.count; i++ {
				pattern += "s"
			}
			packs, err := Split("pack", makeEntries(pattern), Options{PerPack: tt.per})
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if got := sizesOf(packs); !reflect.DeepEqual(got, tt.sizes) {
				t.Errorf("sizes = %v, want %v", got, tt.sizes)
			}
			if got := titlesOf(packs); !reflect.DeepEqual(got, tt.titles) {
				t.Errorf("titles = %v, want %v", got, tt.titles)
			}
		})
	}
}

func TestSplitSeparated(t *testing.T) {
	opts := Options{PerStaticPack: 2, PerAnimatedPack: 3, SeparateStaticAnimated: true}
	packs, err := Split("cats", makeEntries("asasasas"), opts)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// s1,s3 fill first (cap 2), then a0,a2,a4 (cap 3), s5,s7, then leftover a6.
	want := []struct {
		title    string
		animated bool
		paths    []string
	}{
		{"cats", false, []string{"001", "003"}},
		{"cats-1", true, []string{"000", "002", "004"}},
		{"cats-2", false, []string{"005", "007"}},
		{"cats-3", true, []string{"006"}},
	}
	if len(packs) != len(want) {
		t.Fatalf("got %d packs, want %d: %+v", len(packs), len(want), packs)
	}
	for i, w := range want {
		p := packs[i]
		if p.Title != w.title || p.Animated != w.animated || !reflect.DeepEqual(p.Paths(), w.paths) {
			t.Errorf("pack %d = {%s %v %v}, want {%s %v %v}", i, p.Title, p.Animated, p.Paths(), w.title, w.animated, w.paths)
		}
	}
}

func TestSplitLeftoversFollowFirstEntry(t *testing.T) {
	opts := Options{PerStaticPack: 10, PerAnimatedPack: 10, SeparateStaticAnimated: true}

	packs, err := Split("p", makeEntries("aass"), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(packs) != 2 || !packs[0].Animated || packs[1].Animated {
		t.Errorf("animated leftovers should come first, got %+v", packs)
	}

	packs, err = Split("p", makeEntries("ssaa"), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(packs) != 2 || packs[0].Animated || !packs[1].Animated {
		t.Errorf("static leftovers should come first, got %+v", packs)
	}
}

func TestSplitMaxPackBytes(t *testing.T) {
	entries := []Entry{
		{Path: "a", Size: 40},
		{Path: "b", Size: 40},
		{Path: "c", Size: 40},
		{Path: "d", Size: 150},
		{Path: "e", Size: 10},
	}
	packs, err := Split("t", entries, Options{PerPack: 10, MaxPackBytes: 100})
	if err != nil {
		t.Fatal(err)
	}
	var got [][]string
	for _, p := range packs {
		got = append(got, p.Paths())
		if len(p.Entries) > 1 && p.Bytes() > 100 {
			t.Errorf("pack %s holds %d bytes", p.Title, p.Bytes())
		}
	}
	want := [][]string{{"a", "b"}, {"c"}, {"d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("packs = %v, want %v", got, want)
	}
}

func TestSplitCombinedMarksAnimated(t *testing.T) {
	packs, err := Split("t", makeEntries("ssas"), Options{PerPack: 2})
	if err != nil {
		t.Fatal(err)
	}
	if packs[0].Animated || !packs[1].Animated {
		t.Errorf("Animated flags = %v, %v", packs[0].Animated, packs[1].Animated)
	}
}

func TestSplitInvalidLimits(t *testing.T) {
	tests := []Options{
		{},
		{PerPack: -1},
		{PerPack: 10, MaxPackBytes: -5},
		{SeparateStaticAnimated: true, PerPack: 10},
		{SeparateStaticAnimated: true, PerStaticPack: 10},
		{SeparateStaticAnimated: true, PerAnimatedPack: 10},
	}
	for i, opts := range tests {
		if _, err := Split("t", makeEntries("s"), opts); !errors.Is(err, ErrInvalidLimits) {
			t.Errorf("case %d: error = %v, want ErrInvalidLimits", i, err)
		}
	}
}

// TestSplitInvariants checks the partition properties over random inputs.
func TestSplitInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 300; iter++ {
		n := rng.Intn(120)
		entries := make([]Entry, n)
		for i := range entries {
			entries[i] = Entry{Path: fmt.Sprintf("f%03d", i), Animated: rng.Intn(2) == 0, Size: int64(1 + rng.Intn(50))}
		}
		opts := Options{
			PerPack:                1 + rng.Intn(40),
			PerStaticPack:          1 + rng.Intn(40),
			PerAnimatedPack:        1 + rng.Intn(40),
			SeparateStaticAnimated: rng.Intn(2) == 0,
		}
		withBytes := rng.Intn(3) == 0
		if withBytes {
			opts.MaxPackBytes = int64(50 + rng.Intn(500))
		}

		packs, err := Split("t", entries, opts)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}

		capFor := func(p Pack) int {
			if !opts.SeparateStaticAnimated {
				return opts.PerPack
			}
			if p.Animated {
				return opts.PerAnimatedPack
			}
			return opts.PerStaticPack
		}

		seenTitles := map[string]bool{}
		perBin := map[bool][]Entry{}
		lastOfBin := map[bool]int{}
		for i, p := range packs {
			if len(p.Entries) == 0 {
				t.Fatalf("iter %d: empty pack %s", iter, p.Title)
			}
			if len(p.Entries) > capFor(p) {
				t.Fatalf("iter %d: pack %s has %d entries, cap %d", iter, p.Title, len(p.Entries), capFor(p))
			}
			if withBytes && len(p.Entries) > 1 && p.Bytes() > opts.MaxPackBytes {
				t.Fatalf("iter %d: pack %s has %d bytes, max %d", iter, p.Title, p.Bytes(), opts.MaxPackBytes)
			}
			if seenTitles[p.Title] {
				t.Fatalf("iter %d: duplicate title %s", iter, p.Title)
			}
			seenTitles[p.Title] = true

			key := opts.SeparateStaticAnimated && p.Animated
			for _, e := range p.Entries {
				if opts.SeparateStaticAnimated && e.Animated != p.Animated {
					t.Fatalf("iter %d: %s placed in wrong bin", iter, e.Path)
				}
			}
			perBin[key] = append(perBin[key], p.Entries...)
			lastOfBin[key] = i
		}

		if !withBytes {
			for i, p := range packs {
				key := opts.SeparateStaticAnimated && p.Animated
				if i != lastOfBin[key] && len(p.Entries) != capFor(p) {
					t.Fatalf("iter %d: non-final pack %s is under-full (%d)", iter, p.Title, len(p.Entries))
				}
			}
		}

		// Per-bin concatenation reproduces input order.
		wantBin := map[bool][]Entry{}
		for _, e := range entries {
			key := opts.SeparateStaticAnimated && e.Animated
			wantBin[key] = append(wantBin[key], e)
		}
		for _, key := range []bool{false, true} {
			if len(wantBin[key]) != len(perBin[key]) {
				t.Fatalf("iter %d: bin %v has %d entries, want %d", iter, key, len(perBin[key]), len(wantBin[key]))
			}
			for i := range wantBin[key] {
				if wantBin[key][i] != perBin[key][i] {
					t.Fatalf("iter %d: order differs at %d in bin %v", iter, i, key)
				}
			}
		}
	}
}

type fakeProber map[string]*probe.Info

func (f fakeProber) Probe(_ context.Context, path string) (*probe.Info, error) {
	info, ok := f[filepath.Base(path)]
	if !ok {
		return nil, probe.ErrUnsupported
	}
	return info, nil
}

func TestSplitDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"01.webm", "02.png", "03.webm", "04.png", "05.gif", "title.txt", "cover.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	prober := fakeProber{
		"01.webm": {Animated: true, Size: 100},
		"02.png":  {Size: 50},
		"03.webm": {Animated: true, Size: 100},
		"04.png":  {Size: 50},
	}

	packs, skipped, err := SplitDir(context.Background(), prober, dir, "pack", Options{
		PerStaticPack: 120, PerAnimatedPack: 1, SeparateStaticAnimated: true,
	})
	if err != nil {
		t.Fatalf("SplitDir failed: %v", err)
	}
	if len(skipped) != 1 || filepath.Base(skipped[0].Path) != "05.gif" {
		t.Errorf("skipped = %+v", skipped)
	}
	if got := titlesOf(packs); !reflect.DeepEqual(got, []string{"pack", "pack-1", "pack-2"}) {
		t.Errorf("titles = %v", got)
	}
	if len(packs) == 3 && len(packs[2].Entries) != 2 {
		t.Errorf("static pack = %v", packs[2].Paths())
	}
}

func TestSplitDirEmpty(t *testing.T) {
	_, _, err := SplitDir(context.Background(), fakeProber{}, t.TempDir(), "p", Options{PerPack: 1})
	if !errors.Is(err, metadata.ErrNoStickers) {
		t.Errorf("error = %v, want ErrNoStickers", err)
	}
}
