package amqp

import (
	"time"

	"github.com/amqp10/go-amqp/internal/encoding"
)

// exported aliases for the settlement-mode enums used when configuring
// Sender/Receiver links.
type (
	SenderSettleMode   = encoding.SenderSettleMode
	ReceiverSettleMode = encoding.ReceiverSettleMode
	Durability         = encoding.Durability
	ExpiryPolicy       = encoding.ExpiryPolicy
)

// SenderSettleMode values.
const (
	ModeUnsettled = encoding.SenderSettleModeUnsettled
	ModeSettled   = encoding.SenderSettleModeSettled
	ModeMixed     = encoding.SenderSettleModeMixed
)

// ReceiverSettleMode values.
const (
	ModeFirst  = encoding.ReceiverSettleModeFirst
	ModeSecond = encoding.ReceiverSettleModeSecond
)

// Durability values.
const (
	DurabilityNone           = encoding.DurabilityNone
	DurabilityConfiguration  = encoding.DurabilityConfiguration
	DurabilityUnsettledState = encoding.DurabilityUnsettledState
)

// ExpiryPolicy values.
const (
	ExpiryLinkDetach      = encoding.ExpiryLinkDetach
	ExpirySessionEnd      = encoding.ExpirySessionEnd
	ExpiryConnectionClose = encoding.ExpiryConnectionClose
	ExpiryNever           = encoding.ExpiryNever
)

func senderSettleModeValue(m *SenderSettleMode) SenderSettleMode {
	if m == nil {
		return ModeUnsettled
	}
	return *m
}

func receiverSettleModeValue(m *ReceiverSettleMode) ReceiverSettleMode {
	if m == nil {
		return ModeFirst
	}
	return *m
}

// SenderOptions configures a Sender created via Session.NewSender.
type SenderOptions struct {
	// Capabilities is the list of extension capabilities the sender advertises
	// on its source terminus.
	Capabilities []string

	// Durability indicates what state of the terminus the remote must durably
	// hold across link/session/connection loss. Default: DurabilityNone.
	Durability Durability

	// DynamicAddress requests the remote assign a dynamic address for the
	// sender's target, rather than using the address passed to NewSender.
	DynamicAddress bool

	// ExpiryPolicy governs when the source terminus starts its expiry timer.
	ExpiryPolicy ExpiryPolicy

	// ExpiryTimeout is the duration, in seconds, after the ExpiryPolicy is
	// triggered before the source terminus is discarded.
	ExpiryTimeout uint32

	// IgnoreDispositionErrors prevents a Rejected disposition from causing the
	// link to detach. Some peers (notably ones that throttle) use Rejected for
	// recoverable conditions, where detaching is undesirable.
	IgnoreDispositionErrors bool

	// Name sets the link name. If left empty a random name is generated.
	Name string

	// Properties sets an entry in the link attach properties map.
	Properties map[string]interface{}

	// RequestedReceiverSettleMode requests a settlement mode for the receiving
	// side of the link. The remote may reject it.
	RequestedReceiverSettleMode *ReceiverSettleMode

	// SettlementMode sets the settlement mode for the sending side of the
	// link.
	SettlementMode *SenderSettleMode

	// SourceAddress sets the address of the source terminus.
	SourceAddress string
}

// ReceiverOptions configures a Receiver created via Session.NewReceiver.
type ReceiverOptions struct {
	// Capabilities is the list of extension capabilities the receiver
	// advertises on its target terminus.
	Capabilities []string

	// Credit is the amount of link-credit the receiver issues at attach time.
	// With ManualCredit no credit is issued at attach; Credit then sets the
	// capacity of the buffered-message queue, which bounds the total credit
	// IssueCredit accepts.
	Credit int32

	// Durability indicates what state of the terminus the remote must durably
	// hold across link/session/connection loss. Default: DurabilityNone.
	Durability Durability

	// DynamicAddress requests the remote assign a dynamic address for the
	// receiver's source, rather than using the address passed to NewReceiver.
	DynamicAddress bool

	// ExpiryPolicy governs when the target terminus starts its expiry timer.
	ExpiryPolicy ExpiryPolicy

	// ExpiryTimeout is the duration, in seconds, after the ExpiryPolicy is
	// triggered before the target terminus is discarded.
	ExpiryTimeout uint32

	// Filters restricts the messages the source terminus will send, keyed by
	// filter name (for example "apache.org:selector-filter:string").
	Filters []LinkFilter

	// ManualCredit disables automatic credit replenishment; the caller must
	// call Receiver.IssueCredit explicitly.
	ManualCredit bool

	// MaxMessageSize sets the maximum size, in bytes, of a message the
	// receiver accepts. Larger messages cause the link to detach with
	// ErrCondMessageSizeExceeded. Zero means no limit.
	MaxMessageSize uint64

	// Name sets the link name. If left empty a random name is generated.
	Name string

	// Properties sets an entry in the link attach properties map.
	Properties map[string]interface{}

	// RequestedSenderSettleMode requests a settlement mode for the sending
	// side of the link. The remote may reject it.
	RequestedSenderSettleMode *SenderSettleMode

	// SettlementMode sets the settlement mode for the receiving side of the
	// link.
	SettlementMode *ReceiverSettleMode

	// TargetAddress sets the address of the target terminus.
	TargetAddress string
}

// LinkFilter is a single named terminus filter, applied to a Receiver's
// source when attaching.
type LinkFilter struct {
	Name  string
	Value interface{}
}

// ConnOptions configures a connection created via Dial or New.
type ConnOptions struct {
	// ContainerID identifies this client to the remote peer. A random value
	// is used if left empty.
	ContainerID string

	// HeartbeatInterval is how often an empty frame is sent to keep the
	// connection alive. Zero (the default) means half the remote's
	// advertised idle-time-out; if the remote advertises none, no heartbeat
	// is sent. A non-zero value is used as given.
	HeartbeatInterval time.Duration

	// IdleTimeout is the maximum time the remote may go without sending a
	// frame before the connection is considered dead.
	IdleTimeout time.Duration

	// MaxFrameSize is the largest frame, in bytes, this client will accept.
	MaxFrameSize uint32

	// MaxSessions limits the number of sessions this client will allow to be
	// open concurrently on the connection.
	MaxSessions uint16

	// Properties is accepted but not sent: the open performative carries
	// no properties.
	Properties map[string]interface{}

	// SASLType selects the SASL mechanism used during the connection
	// handshake. Defaults to no SASL layer.
	SASLType SASLType

	// WriteTimeout bounds how long a single frame write may block. Zero means
	// no timeout.
	WriteTimeout time.Duration
}

// SessionOptions configures a session created via Client.NewSession.
type SessionOptions struct {
	// MaxLinks limits the number of links this session will allow to be
	// attached concurrently.
	MaxLinks uint32
}
