package sniff

import (
	"net/http"
	"testing"
)

func headerWith(key, value string) http.Header {
	h := make(http.Header)
	if key != "" {
		h.Set(key, value)
	}
	return h
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		preview     []byte
		expectVideo bool
		valid       bool
	}{
		{name: "json error body rejected", contentType: "application/json; charset=utf-8", expectVideo: true, valid: false},
		{name: "text html rejected", contentType: "text/html", expectVideo: true, valid: false},
		{name: "text plain rejected for image", contentType: "text/plain", expectVideo: false, valid: false},
		{name: "video mp4 accepted", contentType: "video/mp4", expectVideo: true, valid: true},
		{name: "application mp4 accepted", contentType: "application/mp4", expectVideo: true, valid: true},
		{name: "octet stream accepted for video", contentType: "application/octet-stream", expectVideo: true, valid: true},
		{name: "image rejected as video", contentType: "image/png", expectVideo: true, valid: false},
		{name: "image png accepted", contentType: "image/png", expectVideo: false, valid: true},
		{name: "video rejected as image", contentType: "video/mp4", expectVideo: false, valid: false},
		{name: "empty type no preview image ok", contentType: "", expectVideo: false, valid: true},
		{name: "empty type no preview video rejected", contentType: "", expectVideo: true, valid: false},
		{
			name:        "json error code preview rejected despite 200",
			contentType: "",
			preview:     []byte(`{"error_code":1,"message":"video has been removed"}`),
			expectVideo: true,
			valid:       false,
		},
		{
			name:        "error_response preview rejected",
			contentType: "",
			preview:     []byte(`{"error_response":{"msg":"denied"}}`),
			expectVideo: true,
			valid:       false,
		},
		{
			name:        "html error page preview rejected",
			contentType: "",
			preview:     []byte("<!DOCTYPE html><html><head><title>404</title></head>"),
			expectVideo: true,
			valid:       false,
		},
		{
			name:        "binary preview accepted",
			contentType: "",
			preview:     []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'},
			expectVideo: true,
			valid:       true,
		},
		{
			name:        "json-ish but not error envelope accepted",
			contentType: "",
			preview:     []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a},
			expectVideo: false,
			valid:       true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(headerWith("Content-Type", tc.contentType), tc.preview, tc.expectVideo)
			if res.Valid != tc.valid {
				t.Errorf("Validate() valid = %v, want %v", res.Valid, tc.valid)
			}
		})
	}
}

func TestValidatePassesPreviewThrough(t *testing.T) {
	preview := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}
	res := Validate(headerWith("", ""), preview, true)
	if !res.Valid {
		t.Fatal("expected binary preview to validate")
	}
	if string(res.Preview) != string(preview) {
		t.Error("expected preview bytes to be passed through")
	}
}

func TestSizeFromHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		mb     float64
		ok     bool
	}{
		{name: "content length exact mb", header: headerWith("Content-Length", "104857600"), mb: 100.0, ok: true},
		{name: "content length small", header: headerWith("Content-Length", "5242880"), mb: 5.0, ok: true},
		{name: "content range preferred", header: func() http.Header {
			h := headerWith("Content-Length", "64")
			h.Set("Content-Range", "bytes 0-63/10485760")
			return h
		}(), mb: 10.0, ok: true},
		{name: "content range unknown total falls back", header: func() http.Header {
			h := headerWith("Content-Length", "1048576")
			h.Set("Content-Range", "bytes 0-63/*")
			return h
		}(), mb: 1.0, ok: true},
		{name: "no headers", header: headerWith("", ""), mb: 0, ok: false},
		{name: "garbage length", header: headerWith("Content-Length", "abc"), mb: 0, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mb, ok := SizeFromHeaders(tc.header)
			if ok != tc.ok || mb != tc.mb {
				t.Errorf("SizeFromHeaders() = (%v, %v), want (%v, %v)", mb, ok, tc.mb, tc.ok)
			}
		})
	}
}

func TestSizeMBUsesBinaryMegabytes(t *testing.T) {
	if got := SizeMB(1048576); got != 1.0 {
		t.Errorf("SizeMB(1048576) = %v, want 1.0", got)
	}
	if got := SizeMB(104857600); got != 100.0 {
		t.Errorf("SizeMB(104857600) = %v, want 100.0", got)
	}
}
