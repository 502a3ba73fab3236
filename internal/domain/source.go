package domain

import (
	"context"
	"errors"
	"io"
)

// ErrRejected marks a permanent refusal by the platform for one message
// (bad request, forbidden). Retrying the same request will not help.
var ErrRejected = errors.New("rejected by platform")

// SenderRef identifies who posted a source message. Channel posts usually
// carry no user, only an author signature or the channel itself.
type SenderRef struct {
	UserID     int64
	PostAuthor string
	ChannelID  int64
}

// MediaRef describes an attachment on a source message.
type MediaRef struct {
	FileID string
	// DeclaredKind is set when the platform declares the kind explicitly
	// (video, audio, voice ...). Empty otherwise.
	DeclaredKind MediaType
	// Document is true for generic file attachments.
	Document bool
	MimeType string
	FileName string
	Size     int64
}

// SourceMessage is one item of a fetchHistory window.
type SourceMessage struct {
	ID            int64
	Sender        SenderRef
	Text          string
	TimestampUnix int64
	Media         *MediaRef
	// ReplyToID is the id of the message this one replies to, or 0.
	ReplyToID int64
}

// Identity is the resolved profile of a sender.
type Identity struct {
	Username  string
	FirstName string
	LastName  string
}

// OutboundMessage is what gets delivered to the source platform.
type OutboundMessage struct {
	Text      string
	MediaURL  string
	MediaType MediaType
	// ReplyToID is the platform id of the message to reply to, if any.
	ReplyToID string
}

// Source is the external messaging platform.
type Source interface {
	// FetchHistory returns up to limit messages, newest first. offsetID > 0
	// restricts the window to messages older than offsetID.
	FetchHistory(ctx context.Context, channelRef string, limit int, offsetID int64) ([]SourceMessage, error)
	DeliverMessage(ctx context.Context, channelRef string, msg OutboundMessage) (string, error)
	DeleteMessage(ctx context.Context, channelRef string, messageID string) error
	ResolveIdentity(ctx context.Context, userID int64) (Identity, error)
	DownloadMedia(ctx context.Context, media MediaRef, w io.Writer) (int64, error)
}
