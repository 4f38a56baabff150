package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/testpilot-dev/testpilot/pkg/config"
)

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		baseName string
		want     string
	}{
		{
			name:     "default prefix",
			prefix:   "",
			baseName: "run-1756200000-8cec1fab",
			want:     "testpilot/runs/run-1756200000-8cec1fab",
		},
		{
			name:     "custom prefix",
			prefix:   "qa/workbench",
			baseName: "run-1756200000-8cec1fab",
			want:     "qa/workbench/runs/run-1756200000-8cec1fab",
		},
		{
			name:     "trailing slash stripped",
			prefix:   "my-prefix/",
			baseName: "run123",
			want:     "my-prefix/runs/run123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3Config{Prefix: tt.prefix},
			}
			got := u.resolvePrefix(tt.baseName)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "runs/report.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "runs/Makefile",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "screenshot",
			path:       "runs/failure.png",
			wantPrefix: "image/png",
		},
		{
			name:       "html report",
			path:       "runs/index.html",
			wantPrefix: "text/html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}
