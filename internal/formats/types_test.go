package formats

import "testing"

func TestGetKind(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		want Kind
	}{
		{name: "JPEG image", ext: ".jpg", want: KindStatic},
		{name: "PNG may be APNG", ext: ".png", want: KindAnimated},
		{name: "upper case without dot", ext: "WEBP", want: KindAnimated},
		{name: "TGS sticker", ext: ".tgs", want: KindAnimated},
		{name: "WebM video", ext: ".webm", want: KindVideo},
		{name: "MOV video", ext: ".mov", want: KindVideo},
		{name: "text file", ext: ".txt", want: KindOther},
		{name: "empty extension", ext: "", want: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetKind(tt.ext); got != tt.want {
				t.Errorf("GetKind(%q) = %v, want %v", tt.ext, got, tt.want)
			}
		})
	}
}

func TestFromPath(t *testing.T) {
	tests := map[string]string{
		"/tmp/a.PNG":        ".png",
		"pack/01.webm":      ".webm",
		"noext":             "",
		"dir.d/sticker.Tgs": ".tgs",
	}
	for in, want := range tests {
		if got := FromPath(in); got != want {
			t.Errorf("FromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetMimeType(t *testing.T) {
	if got := GetMimeType(".webm"); got != "video/webm" {
		t.Errorf("GetMimeType(.webm) = %q", got)
	}
	if got := GetMimeType("tgs"); got != "application/x-tgsticker" {
		t.Errorf("GetMimeType(tgs) = %q", got)
	}
	if got := GetMimeType(".xyz"); got != "application/octet-stream" {
		t.Errorf("GetMimeType(.xyz) = %q", got)
	}
}

func TestPredicates(t *testing.T) {
	if !IsSticker(".gif") || IsSticker(".m4a") {
		t.Error("IsSticker misclassifies .gif or .m4a")
	}
	if CanBeAnimated(".jpg") || !CanBeAnimated(".mp4") {
		t.Error("CanBeAnimated misclassifies .jpg or .mp4")
	}
	if !IsVideo(".mkv") || IsVideo(".webp") {
		t.Error("IsVideo misclassifies .mkv or .webp")
	}
}

func TestEquivalent(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{".png", ".apng", true},
		{"APNG", ".png", true},
		{".jpeg", ".jpg", true},
		{".webp", ".webm", false},
		{".gif", ".png", false},
	}
	for _, tt := range tests {
		if got := Equivalent(tt.a, tt.b); got != tt.want {
			t.Errorf("Equivalent(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
