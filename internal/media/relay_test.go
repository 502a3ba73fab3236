package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgmirror/internal/domain"
	"tgmirror/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeDownloader struct {
	body string
	err  error
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, ref domain.MediaRef, w io.Writer) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	n, err := io.Copy(w, strings.NewReader(f.body))
	return n, err
}

// shortHost reports a size that never matches the upload.
type shortHost struct {
	domain.RelayHost
	deleted []string
}

func (h *shortHost) Size(ctx context.Context, p string) (int64, bool, error) { return 1, true, nil }
func (h *shortHost) Delete(ctx context.Context, p string) error {
	h.deleted = append(h.deleted, p)
	return nil
}

var testChannel = domain.ChannelDescriptor{
	SourceID:       "@news",
	DisplayName:    "News",
	CollectionName: "news_messages",
	MediaNamespace: "/news/",
	FilePrefix:     "news",
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRelay_Success(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	tmpDir := t.TempDir()
	host, _ := relay.NewDirHost(root, "https://cdn.example.com")

	r := NewRelay(&fakeDownloader{body: "%PDF-1.4"}, host, Options{TempDir: tmpDir, Logger: testLogger()})
	res, err := r.Relay(ctx, testChannel, domain.MediaRef{Document: true, MimeType: "application/pdf"}, 42, "Hello world 123")
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if res.Path != "/news/Hello_world_123_42.pdf" {
		t.Errorf("path: %s", res.Path)
	}
	if res.URL != "https://cdn.example.com/news/Hello_world_123_42.pdf" {
		t.Errorf("url: %s", res.URL)
	}
	if res.Type != domain.MediaDocument {
		t.Errorf("type: %s", res.Type)
	}
	data, err := os.ReadFile(filepath.Join(root, "news", "Hello_world_123_42.pdf"))
	if err != nil || string(data) != "%PDF-1.4" {
		t.Errorf("uploaded content: %q %v", data, err)
	}
	if left := tempFiles(t, tmpDir); len(left) != 0 {
		t.Errorf("temp files not cleaned up: %v", left)
	}
}

func TestRelay_DownloadFailureCleansUp(t *testing.T) {
	tmpDir := t.TempDir()
	host, _ := relay.NewDirHost(t.TempDir(), "https://cdn.example.com")
	r := NewRelay(&fakeDownloader{err: errors.New("file expired")}, host, Options{TempDir: tmpDir, Logger: testLogger()})

	_, err := r.Relay(context.Background(), testChannel, domain.MediaRef{}, 1, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindMediaRelay {
		t.Errorf("expected media relay kind, got %s", domain.KindOf(err))
	}
	if left := tempFiles(t, tmpDir); len(left) != 0 {
		t.Errorf("temp files not cleaned up: %v", left)
	}
}

func TestRelay_DeclaredSizeOverLimit(t *testing.T) {
	host, _ := relay.NewDirHost(t.TempDir(), "https://cdn.example.com")
	dl := &fakeDownloader{body: "never read"}
	r := NewRelay(dl, host, Options{MaxBytes: 100, TempDir: t.TempDir(), Logger: testLogger()})

	_, err := r.Relay(context.Background(), testChannel, domain.MediaRef{Size: 101}, 1, "")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestRelay_StreamedSizeOverLimit(t *testing.T) {
	host, _ := relay.NewDirHost(t.TempDir(), "https://cdn.example.com")
	r := NewRelay(&fakeDownloader{body: strings.Repeat("x", 50)}, host, Options{MaxBytes: 10, TempDir: t.TempDir(), Logger: testLogger()})

	_, err := r.Relay(context.Background(), testChannel, domain.MediaRef{}, 1, "")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestRelay_SizeMismatchDeletesUpload(t *testing.T) {
	dir, _ := relay.NewDirHost(t.TempDir(), "https://cdn.example.com")
	host := &shortHost{RelayHost: dir}
	r := NewRelay(&fakeDownloader{body: "photo-bytes"}, host, Options{TempDir: t.TempDir(), Logger: testLogger()})

	_, err := r.Relay(context.Background(), testChannel, domain.MediaRef{}, 5, "")
	if err == nil {
		t.Fatal("expected verification error")
	}
	if len(host.deleted) != 1 || host.deleted[0] != "/news/news_5.jpg" {
		t.Errorf("expected partial upload removal, got %v", host.deleted)
	}
}
