package asset_test

import (
	"strings"
	"testing"

	"github.com/artpar/bundlegate/domain/asset"
)

func TestRender(t *testing.T) {
	content := []byte("a{color:red}")
	hash := asset.ContentHash(content)

	tests := []struct {
		name    string
		scheme  string
		src     string
		want    string
		wantErr bool
	}{
		{name: "plain", scheme: "[name].[ext]", src: "images/logo.png", want: "logo.png"},
		{name: "hashed", scheme: "[name].[hash].[ext]", src: "images/logo.png", want: "logo." + hash + ".png"},
		{name: "contenthash css", scheme: "[name].[contenthash].css", src: "less/style.less", want: "style." + hash + ".css"},
		{name: "path placeholder", scheme: "[path][name].[ext]", src: "fonts/icons.woff2", want: "fonts/icons.woff2"},
		{name: "path at root", scheme: "[path][name].[ext]", src: "index.html", want: "index.html"},
		{name: "empty scheme keeps base", scheme: "", src: "a/b/c.mp3", want: "c.mp3"},
		{name: "unknown placeholder", scheme: "[name].[id].js", src: "app.js", wantErr: true},
		{name: "unterminated", scheme: "[name.js", src: "app.js", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := asset.Render(tt.scheme, tt.src, content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render(%q, %q) = %q, want %q", tt.scheme, tt.src, got, tt.want)
			}
		})
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := asset.ContentHash([]byte("body{margin:0}"))
	b := asset.ContentHash([]byte("body{margin:0}"))
	c := asset.ContentHash([]byte("body{margin:1px}"))

	if a != b {
		t.Errorf("identical input hashed differently: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different input produced identical hash")
	}
	if len(a) != asset.HashLength {
		t.Errorf("len(hash) = %d, want %d", len(a), asset.HashLength)
	}
	if strings.Trim(a, "0123456789abcdef") != "" {
		t.Errorf("hash %q is not lowercase hex", a)
	}
}

func TestHashed(t *testing.T) {
	if !asset.Hashed("[name].[chunkhash].js") {
		t.Error("chunkhash scheme should be hashed")
	}
	if asset.Hashed("[name].[ext]") {
		t.Error("plain scheme should not be hashed")
	}
}
