package media

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"tgmirror/internal/domain"
)

const (
	slugRunes  = 50
	maxNameLen = 200
)

var (
	unsafeFileName = regexp.MustCompile(`[^a-zA-Z0-9_\-äöüÄÖÜß.]`)
	unsafeSlug     = regexp.MustCompile(`[^a-zA-Z0-9_\-äöüÄÖÜß]`)
)

var extensions = map[domain.MediaType]string{
	domain.MediaPhoto:    ".jpg",
	domain.MediaVideo:    ".mp4",
	domain.MediaAudio:    ".mp3",
	domain.MediaDocument: ".pdf",
}

// Classify picks the relay kind of an attachment. A kind declared by the
// source wins, then the MIME type of documents, then photo.
func Classify(ref domain.MediaRef) domain.MediaType {
	if ref.DeclaredKind != "" {
		return ref.DeclaredKind
	}
	if !ref.Document {
		return domain.MediaPhoto
	}
	mime := strings.ToLower(ref.MimeType)
	switch {
	case strings.Contains(mime, "video"):
		return domain.MediaVideo
	case strings.Contains(mime, "audio"), strings.Contains(mime, "ogg"), strings.Contains(mime, "mpeg"):
		return domain.MediaAudio
	default:
		return domain.MediaDocument
	}
}

// Extension returns the file extension used for kind.
func Extension(kind domain.MediaType) string {
	if ext, ok := extensions[kind]; ok {
		return ext
	}
	return extensions[domain.MediaPhoto]
}

// DeriveName builds the relay file name for a message attachment.
//
// A sanitized original file name is used when the source provided one.
// Otherwise the first 50 characters of the message text become a slug
// followed by _<id><ext>, and with no usable text the channel prefix is used
// instead of the slug. Names never exceed 200 bytes; truncation keeps the
// id and extension at the end.
func DeriveName(originalName, text, prefix string, messageID int64, kind domain.MediaType) string {
	id := strconv.FormatInt(messageID, 10)
	ext := Extension(kind)

	var name string
	switch {
	case originalName != "":
		name = unsafeFileName.ReplaceAllString(originalName, "_")
		if e := path.Ext(name); e != "" && e != name {
			ext = e
		}
	default:
		slug := strings.Trim(unsafeSlug.ReplaceAllString(firstRunes(text, slugRunes), "_"), "_")
		if slug == "" {
			slug = prefix
		}
		name = slug + "_" + id + ext
	}

	if len(name) <= maxNameLen {
		return name
	}
	suffix := "_" + id + ext
	base := strings.TrimSuffix(name, ext)
	return truncateBytes(base, maxNameLen-len(suffix)) + suffix
}

// RelayPath places name inside a channel's media folder.
func RelayPath(folder, name string) string {
	return path.Join("/", folder, name)
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
