package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tgmirror/internal/config"
)

func TestNew_PreservesOrderAndDefaults(t *testing.T) {
	reg, err := New([]config.ChannelConfig{
		{Source: "@WeltenbibliothekPDF", Name: "PDF", Collection: "pdf_messages", MediaFolder: "pdfs"},
		{Source: "@ArchivChannel", Name: "Archive", Collection: "archiv_messages", MediaFolder: "/videos/", RetentionHours: 6},
	}, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	chs := reg.Channels()
	if len(chs) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(chs))
	}
	if chs[0].SourceID != "@WeltenbibliothekPDF" || chs[1].SourceID != "@ArchivChannel" {
		t.Fatalf("registration order not preserved: %+v", chs)
	}
	if chs[0].MediaNamespace != "/pdfs/" {
		t.Fatalf("expected /pdfs/, got %q", chs[0].MediaNamespace)
	}
	if chs[0].FilePrefix != "pdf" {
		t.Fatalf("expected prefix 'pdf', got %q", chs[0].FilePrefix)
	}
	if chs[0].Retention != 24*time.Hour {
		t.Fatalf("expected default retention, got %v", chs[0].Retention)
	}
	if chs[1].Retention != 6*time.Hour {
		t.Fatalf("expected per-channel retention, got %v", chs[1].Retention)
	}
}

func TestNew_Empty(t *testing.T) {
	if _, err := New(nil, time.Hour); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestNew_DuplicateSource(t *testing.T) {
	_, err := New([]config.ChannelConfig{
		{Source: "@a", Collection: "a"},
		{Source: "@a", Collection: "b"},
	}, time.Hour)
	if err == nil {
		t.Fatal("expected error for duplicate source")
	}
}

func TestNew_DuplicateCollection(t *testing.T) {
	_, err := New([]config.ChannelConfig{
		{Source: "@a", Collection: "shared"},
		{Source: "@b", Collection: "shared"},
	}, time.Hour)
	if err == nil {
		t.Fatal("expected error for collection mapped twice")
	}
}

func TestNew_NameFallsBackToSource(t *testing.T) {
	reg, err := New([]config.ChannelConfig{{Source: "@Hoerbuch", Collection: "hoerbuch_messages"}}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ch := reg.Channels()[0]
	if ch.DisplayName != "Hoerbuch" {
		t.Fatalf("expected name from source, got %q", ch.DisplayName)
	}
	if ch.MediaNamespace != "/hoerbuch_messages/" {
		t.Fatalf("expected folder from collection, got %q", ch.MediaNamespace)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "channels.yaml")
	content := `
channels:
  - source: "@Weltenbibliothekchat"
    name: Chat
    collection: chat_messages
    mediaFolder: /chat/
  - source: "@WeltenbibliothekHoerbuch"
    name: Hörbücher
    collection: hoerbuch_messages
    mediaFolder: /audios/
    filePrefix: hoerbuch
`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadFile(p, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 channels, got %d", reg.Len())
	}
	ch, ok := reg.Lookup("hoerbuch_messages")
	if !ok {
		t.Fatal("lookup by collection failed")
	}
	if ch.FilePrefix != "hoerbuch" {
		t.Fatalf("expected explicit prefix, got %q", ch.FilePrefix)
	}
	if _, ok := reg.Lookup("Chat"); !ok {
		t.Fatal("lookup by name failed")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml"), time.Hour); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultFilePrefix(t *testing.T) {
	cases := map[string]string{
		"PDF":          "pdf",
		"Video-Archiv": "video-archiv",
		"Hörbücher":    "hrbcher",
		"!!!":          "media",
	}
	for in, want := range cases {
		if got := DefaultFilePrefix(in); got != want {
			t.Errorf("DefaultFilePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
