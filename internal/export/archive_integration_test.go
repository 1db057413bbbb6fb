package export

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestArchivePutPresignsDownload(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("FORMSYNC_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("FORMSYNC_TEST_MINIO_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	archive, err := NewArchive(ctx, ArchiveConfig{
		Endpoint:   endpoint,
		AccessKey:  os.Getenv("FORMSYNC_TEST_MINIO_ACCESS_KEY"),
		SecretKey:  os.Getenv("FORMSYNC_TEST_MINIO_SECRET_KEY"),
		Bucket:     "formsync-test-exports",
		LinkExpiry: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	link, expiresAt, err := archive.Put(ctx, "forms/test/v1/test.html", &Result{
		Data:     []byte("<html></html>"),
		Filename: "test.html",
		MimeType: "text/html",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.Contains(link, "forms/test/v1/test.html") || !strings.Contains(link, "X-Amz-Signature") {
		t.Fatalf("unexpected presigned url %q", link)
	}
	if time.Until(expiresAt) > time.Minute {
		t.Fatalf("expiry %v exceeds the configured link lifetime", expiresAt)
	}
}
