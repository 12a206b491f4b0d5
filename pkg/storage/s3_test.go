package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportKey(t *testing.T) {
	at := time.Unix(1700000000, 42)
	assert.Equal(t, "exports/abc/1700000000000000042.json", ExportKey("abc", at))
}

func TestPresignedDownloadURL(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		ExportsBucket:   "poll-exports",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, s.PresignExpire())

	url, err := s.PresignedDownloadURL(context.Background(), "exports/abc/1.json")
	require.NoError(t, err)
	assert.True(t, strings.Contains(url, "poll-exports"), url)
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=900")
}
