package domain

import "time"

// Origin tells where a record was first written.
type Origin string

const (
	OriginSource      Origin = "source"
	OriginApplication Origin = "application"
)

// MediaType is the relay classification of an attachment.
type MediaType string

const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// MessageRecord is one mirrored message as stored in the document store.
// Empty strings stand for absent optional fields. DeleteSynced is set once
// the external artifacts of a deleted record have been removed.
type MessageRecord struct {
	ID                   string     `json:"id" bson:"_id"`
	ChannelID            string     `json:"channelId" bson:"channel_id"`
	SourceMessageID      string     `json:"sourceMessageId,omitempty" bson:"source_message_id"`
	SenderID             string     `json:"senderId" bson:"sender_id"`
	SenderDisplayName    string     `json:"senderDisplayName" bson:"sender_name"`
	SenderUsername       string     `json:"senderUsername,omitempty" bson:"sender_username,omitempty"`
	Text                 string     `json:"text" bson:"text"`
	ReplyToID            string     `json:"replyToId,omitempty" bson:"reply_to_id,omitempty"`
	CreatedAt            time.Time  `json:"createdAt" bson:"created_at"`
	Origin               Origin     `json:"origin" bson:"origin"`
	SynchronizedToSource bool       `json:"synchronizedToSource" bson:"synced_to_source"`
	SourceDeliveredID    string     `json:"sourceDeliveredId,omitempty" bson:"source_delivered_id,omitempty"`
	SyncedAt             *time.Time `json:"syncedAt,omitempty" bson:"synced_at,omitempty"`
	RejectedAt           *time.Time `json:"rejectedAt,omitempty" bson:"rejected_at,omitempty"`
	RejectReason         string     `json:"rejectReason,omitempty" bson:"reject_reason,omitempty"`
	MediaURL             string     `json:"mediaUrl,omitempty" bson:"media_url,omitempty"`
	MediaType            MediaType  `json:"mediaType,omitempty" bson:"media_type,omitempty"`
	RelayPath            string     `json:"relayPath,omitempty" bson:"relay_path,omitempty"`
	OriginalFileName     string     `json:"originalFileName,omitempty" bson:"original_file_name,omitempty"`
	Deleted              bool       `json:"deleted" bson:"deleted"`
	DeletedAt            *time.Time `json:"deletedAt,omitempty" bson:"deleted_at,omitempty"`
	DeleteSynced         bool       `json:"deleteSynced" bson:"delete_synced"`
}

// SourceMessageKey returns the id the platform knows this record by, or ""
// if it never reached the platform.
func (r MessageRecord) SourceMessageKey() string {
	if r.Origin == OriginApplication {
		return r.SourceDeliveredID
	}
	return r.SourceMessageID
}

// Filter is the predicate language of DocumentStore.Query. Nil fields do not
// constrain the result.
type Filter struct {
	Origin               *Origin
	SynchronizedToSource *bool
	Deleted              *bool
	DeleteSynced         *bool
	// Rejected matches on whether the platform refused delivery for good.
	Rejected *bool
	// CreatedAtOrBefore matches records with createdAt <= the given instant.
	CreatedAtOrBefore *time.Time
}

// Patch lists the fields UpdateFields may change. Nil fields are left alone.
type Patch struct {
	SynchronizedToSource *bool
	SourceDeliveredID    *string
	SyncedAt             *time.Time
	RejectedAt           *time.Time
	RejectReason         *string
	Deleted              *bool
	DeletedAt            *time.Time
	DeleteSynced         *bool
}

// Ptr returns a pointer to v. Handy for building filters and patches.
func Ptr[T any](v T) *T { return &v }
