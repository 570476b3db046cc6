package mediakind

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected Kind
	}{
		{name: "hls manifest", url: "https://cdn.example.com/live/index.m3u8", expected: KindHLS},
		{name: "hls with query", url: "https://cdn.example.com/v.m3u8?token=abc", expected: KindHLS},
		{name: "jpg image", url: "https://img.example.com/p/photo.jpg", expected: KindImage},
		{name: "jpeg uppercase", url: "https://img.example.com/p/PHOTO.JPEG", expected: KindImage},
		{name: "png with query", url: "https://img.example.com/a.png?x-sig=123", expected: KindImage},
		{name: "webp", url: "https://img.example.com/a.webp", expected: KindImage},
		{name: "svg", url: "https://img.example.com/logo.svg", expected: KindImage},
		{name: "mp4 video", url: "https://v.example.com/clip.mp4", expected: KindVideo},
		{name: "mkv video", url: "https://v.example.com/movie.mkv", expected: KindVideo},
		{name: "webm video", url: "https://v.example.com/clip.webm", expected: KindVideo},
		{name: "unknown extension defaults to video", url: "https://v.example.com/stream.bin", expected: KindVideo},
		{name: "no extension defaults to video", url: "https://v.example.com/watch/12345", expected: KindVideo},
		{name: "image ext not at path end", url: "https://x.example.com/a.jpg.html", expected: KindVideo},
		{name: "image ext inside query ignored", url: "https://x.example.com/dl?file=a.jpg", expected: KindVideo},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.url); got != tc.expected {
				t.Errorf("Classify(%q) = %v, want %v", tc.url, got, tc.expected)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindHLS.String() != "hls" || KindImage.String() != "image" || KindVideo.String() != "video" {
		t.Errorf("Kind.String() mismatch: %s %s %s", KindHLS, KindImage, KindVideo)
	}
}

func TestHasMediaExtension(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "mp4", url: "https://v.example.com/clip.mp4", want: true},
		{name: "hls", url: "https://cdn.example.com/v.m3u8?token=abc", want: true},
		{name: "png", url: "https://img.example.com/a.png", want: true},
		{name: "html page", url: "https://example.com/watch/12345", want: false},
		{name: "unknown extension", url: "https://v.example.com/stream.bin", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasMediaExtension(tc.url); got != tc.want {
				t.Errorf("HasMediaExtension(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}

func TestIsImage(t *testing.T) {
	if !IsImage("https://img.example.com/a.gif") {
		t.Error("expected gif to classify as image")
	}
	if IsImage("https://v.example.com/a.mp4") {
		t.Error("expected mp4 not to classify as image")
	}
}
