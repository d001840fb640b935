// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"time"
)

// ConnectionState is the lifecycle signal emitted by a transport session.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// DisconnectCause classifies why a session closed. It decides which
// reconnect policy the Supervisor applies.
type DisconnectCause int

const (
	CauseOther DisconnectCause = iota
	CauseLoggedOut
	CauseRestartRequired
)

func (c DisconnectCause) String() string {
	switch c {
	case CauseLoggedOut:
		return "logged-out"
	case CauseRestartRequired:
		return "restart-required"
	default:
		return "other"
	}
}

// ConnectionUpdate is delivered on every connection state change. An
// update carrying a PairingCode has an empty State: the code must be shown
// to the operator and the connection state is unchanged.
type ConnectionUpdate struct {
	State       ConnectionState
	Cause       DisconnectCause
	PairingCode string
	Err         error
}

// MessageKind is the closed set of inbound message payload variants.
type MessageKind int

const (
	KindEmpty MessageKind = iota
	KindText
	KindImage
	KindVideo
	KindAudio
	KindSticker
	KindDocument
	KindUnknown
)

func (k MessageKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSticker:
		return "sticker"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind is one the gateway refuses to process.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindSticker, KindDocument:
		return true
	default:
		return false
	}
}

// InboundMessage is the transport-independent view of a received message.
// Sender is the chat identity (for direct chats, the other party).
type InboundMessage struct {
	ID        string
	Sender    string
	FromMe    bool
	Kind      MessageKind
	Text      string
	PushName  string
	Timestamp time.Time
}

// CallOffer is emitted when someone starts a call. From is empty when the
// caller could not be determined.
type CallOffer struct {
	From   string
	CallID string
}

// Credentials is the opaque authentication material held by a
// SessionStore. Identity is empty until the device has been paired.
type Credentials interface {
	Identity() string
}

// Handlers are the typed event streams a Session publishes. Any field may
// be nil.
type Handlers struct {
	OnConnectionUpdate   func(ConnectionUpdate)
	OnMessage            func(InboundMessage)
	OnCallOffer          func(CallOffer)
	OnCredentialsChanged func(Credentials)
}

// Presence is a chat presence hint sent to a single recipient. Values
// match the WhatsApp chat presence states.
type Presence string

const PresenceComposing Presence = "composing"

// OutboundContent is either a text message or a document with a caption.
type OutboundContent struct {
	Text       string
	Attachment []byte
	FileName   string
}

// IsDocument reports whether the content should be sent as a document.
func (c OutboundContent) IsDocument() bool {
	return len(c.Attachment) > 0 && c.FileName != ""
}

// ExistenceResult is the answer of a recipient existence check.
type ExistenceResult struct {
	Exists          bool
	VerifiedAddress string
}

// Session is a live connection to the messaging network.
type Session interface {
	CheckExists(ctx context.Context, number string) (ExistenceResult, error)
	Send(ctx context.Context, to string, content OutboundContent) error
	SetPresence(ctx context.Context, to string, presence Presence) error
	Close() error
}

// Dialer creates and starts a Session from stored credentials. Handlers
// must be registered before the session starts producing events.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials, handlers Handlers) (Session, error)
}

// SessionStore persists authentication material across restarts.
type SessionStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Delete(ctx context.Context) error
}
