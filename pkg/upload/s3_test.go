package upload

import (
	"testing"

	"github.com/ethpandaops/gymdesk/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestS3Key(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "2026/03/a.jpg", want: "2026/03/a.jpg"},
		{name: "prefix", prefix: "site/images", key: "2026/03/a.jpg", want: "site/images/2026/03/a.jpg"},
		{name: "slashes trimmed", prefix: "/site/", key: "/a.jpg", want: "site/a.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{cfg: &config.S3StorageConfig{Prefix: tt.prefix}}
			assert.Equal(t, tt.want, u.key(tt.key))
		})
	}
}

func TestS3PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.S3StorageConfig
		want string
	}{
		{
			name: "public base url",
			cfg:  config.S3StorageConfig{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"},
			want: "https://cdn.example.com/k.jpg",
		},
		{
			name: "custom endpoint",
			cfg:  config.S3StorageConfig{Bucket: "b", EndpointURL: "http://minio:9000"},
			want: "http://minio:9000/b/k.jpg",
		},
		{
			name: "aws default",
			cfg:  config.S3StorageConfig{Bucket: "b", Region: "eu-west-1"},
			want: "https://s3.eu-west-1.amazonaws.com/b/k.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{cfg: &tt.cfg}
			assert.Equal(t, tt.want, u.publicURL("k.jpg"))
		})
	}
}
