// Package domain defines the persistence models for chat messages, the push
// notification queue, and registered delivery endpoints. These types are
// mapped with GORM and form the core data layer of the application.
//
// Records crossing the process boundary (change-feed frames, store rows) are
// decoded into these explicit structs and validated at the edge; nothing
// downstream ever handles an untyped payload.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Attachment is one file attached to a message. Attachments are immutable
// once attached; edits replace the whole list.
type Attachment struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// SenderIdentity is the resolved display identity of a message author.
// Identities are not stored on the message row; they are resolved lazily
// through the identity cache and attached in memory.
type SenderIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Profile is the persisted counterpart of SenderIdentity: the display
// identity row looked up when resolving message authors.
type Profile struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	AvatarURL   string    `json:"avatar_url"   gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Identity converts the stored profile into its in-memory display form.
func (p Profile) Identity() SenderIdentity {
	return SenderIdentity{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

// Message represents a single utterance within a channel.
//
// Fields:
//   - ID: stable UUID primary key (char(36)); for optimistically sent
//     messages the client-generated id is written to the store, so the
//     authoritative row comes back under the same key.
//   - ChannelID: owning channel; partition key for the in-memory ledger.
//   - SenderID: author id; display identity is resolved separately.
//   - Content: text body.
//   - Timestamp: creation instant; the sole ordering key for the ledger.
//   - ParentID: optional weak reference to a prior message (threading).
//   - Reactions: reaction symbol → user ids; mutable in place.
//   - Attachments: ordered, immutable once attached.
//   - Sender / IsOptimistic / Failed: in-memory only, never persisted.
type Message struct {
	ID          string              `json:"id"          gorm:"type:char(36);primaryKey"`
	ChannelID   string              `json:"channel_id"  gorm:"type:char(36);not null;index:idx_channel_msgs,priority:1"`
	SenderID    string              `json:"sender_id"   gorm:"type:varchar(64);not null;index"`
	Content     string              `json:"content"     gorm:"type:text;not null"`
	Timestamp   time.Time           `json:"timestamp"   gorm:"not null;index:idx_channel_msgs,priority:2"`
	ParentID    *string             `json:"parent_id,omitempty" gorm:"type:char(36)"`
	Reactions   map[string][]string `json:"reactions,omitempty"   gorm:"serializer:json"`
	Attachments []Attachment        `json:"attachments,omitempty" gorm:"serializer:json"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	DeletedAt   gorm.DeletedAt      `json:"-"           gorm:"index"`

	Sender       *SenderIdentity `json:"sender,omitempty" gorm:"-"`
	IsOptimistic bool            `json:"is_optimistic,omitempty" gorm:"-"`
	Failed       bool            `json:"failed,omitempty" gorm:"-"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Notification queue row statuses. A row is terminal once sent or failed.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// NotificationRow represents one pending push fan-out job.
//
// Invariants:
//   - Attempts only ever increases.
//   - Status moves pending→sent (terminal), pending→pending (retry), or
//     pending→failed (terminal, attempts at/over the cap). Nothing else.
type NotificationRow struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	RecipientID  string         `json:"recipient_id"  gorm:"type:varchar(64);not null;index"`
	Title        string         `json:"title"         gorm:"type:varchar(255);not null"`
	Body         string         `json:"body"          gorm:"type:text;not null"`
	Data         map[string]any `json:"data,omitempty" gorm:"serializer:json"`
	Priority     int            `json:"priority"      gorm:"not null;default:0;index:idx_queue_claim,priority:2"`
	Status       string         `json:"status"        gorm:"type:varchar(16);not null;default:'pending';index:idx_queue_claim,priority:1;check:status IN ('pending','sent','failed')"`
	Attempts     int            `json:"attempts"      gorm:"not null;default:0"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at"    gorm:"index:idx_queue_claim,priority:3"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// TableName returns the database table name for NotificationRow.
func (NotificationRow) TableName() string { return "notification_queue" }

// Terminal reports whether the row has reached a final status.
func (n *NotificationRow) Terminal() bool {
	return n.Status == StatusSent || n.Status == StatusFailed
}

// CanTransition reports whether from → to is a legal queue-row status change.
//
// Used defensively in tests; production code drives transitions through the
// repo functions (MarkSent, MarkFailed, RecordRetry) which already enforce
// the rules.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		// pending → sent (delivered), pending → pending (retry after a
		// failed attempt), pending → failed (attempts exhausted or no
		// endpoints to try).
		return to == StatusSent || to == StatusPending || to == StatusFailed
	case StatusSent, StatusFailed:
		// Terminal. Rows are only removed by the retention sweep.
		return false
	}
	return false
}

// Delivery endpoint statuses. Expired endpoints are kept for audit, never
// deleted, and excluded from fan-out.
const (
	EndpointActive   = "active"
	EndpointExpired  = "expired"
	EndpointInactive = "inactive"
)

// DeliveryEndpoint is one recipient-registered push destination (a browser
// push subscription). P256dh and Auth are the client keys required to
// encrypt payloads for this endpoint.
type DeliveryEndpoint struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	RecipientID  string    `json:"recipient_id"  gorm:"type:varchar(64);not null;index:idx_recipient_endpoints"`
	EndpointURI  string    `json:"endpoint"      gorm:"type:text;not null"`
	P256dh       string    `json:"p256dh"        gorm:"type:varchar(255);not null"`
	Auth         string    `json:"auth"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','expired','inactive')"`
	FailureCount int       `json:"failure_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for DeliveryEndpoint.
func (DeliveryEndpoint) TableName() string { return "delivery_endpoints" }

// VapidKeyPair is a VAPID signing key pair used to authenticate web-push
// requests. At most one pair is active at a time; rotation deactivates the
// previous pair but keeps the row so in-flight subscriptions can be audited.
type VapidKeyPair struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	PublicKey  string    `json:"public_key"  gorm:"type:varchar(255);not null"`
	PrivateKey string    `json:"-"           gorm:"type:varchar(255);not null"`
	Subject    string    `json:"subject"     gorm:"type:varchar(255);not null"`
	Active     bool      `json:"active"      gorm:"not null;default:true;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for VapidKeyPair.
func (VapidKeyPair) TableName() string { return "vapid_key_pairs" }
