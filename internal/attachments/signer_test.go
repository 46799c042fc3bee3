package attachments

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"classchat/api/internal/store"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		ref         string
		bucket, key string
		ok          bool
	}{
		{ref: "s3://course-files/2026/syllabus.pdf", bucket: "course-files", key: "2026/syllabus.pdf", ok: true},
		{ref: "s3://bucket-only", ok: false},
		{ref: "s3:///key", ok: false},
		{ref: "https://cdn.example.edu/a.png", ok: false},
	}
	for _, tc := range cases {
		bucket, key, ok := ParseRef(tc.ref)
		require.Equal(t, tc.ok, ok, tc.ref)
		require.Equal(t, tc.bucket, bucket, tc.ref)
		require.Equal(t, tc.key, key, tc.ref)
	}
}

func TestSignAttachmentsPresignsObjectRefs(t *testing.T) {
	signer, err := NewSigner(Config{
		Endpoint:  "objects.example.edu",
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
		UseSSL:    true,
		URLTTL:    5 * time.Minute,
	}, nil)
	require.NoError(t, err)

	stored := []store.Attachment{
		{URL: "s3://course-files/notes.pdf", Type: "pdf", Filename: "notes.pdf"},
		{URL: "https://cdn.example.edu/photo.png", Type: "image"},
	}
	signed := signer.SignAttachments(context.Background(), stored)

	require.Len(t, signed, 2)
	require.Equal(t, "s3://course-files/notes.pdf", stored[0].URL, "input must not be mutated")
	require.Equal(t, "https://cdn.example.edu/photo.png", signed[1].URL)

	u, err := url.Parse(signed[0].URL)
	require.NoError(t, err)
	require.Equal(t, "https", u.Scheme)
	require.Equal(t, "objects.example.edu", u.Host)
	require.Equal(t, "/course-files/notes.pdf", u.Path)
	require.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	require.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
