package encoding

import (
	"fmt"

	"github.com/amqp10/go-amqp/internal/buffer"
)

// SenderSettleMode is the attach-negotiated settlement policy for the
// sending side of a link.
type SenderSettleMode uint8

const (
	SenderSettleModeUnsettled SenderSettleMode = 0
	SenderSettleModeSettled   SenderSettleMode = 1
	SenderSettleModeMixed     SenderSettleMode = 2
)

func (m SenderSettleMode) String() string {
	switch m {
	case SenderSettleModeUnsettled:
		return "unsettled"
	case SenderSettleModeSettled:
		return "settled"
	case SenderSettleModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("SenderSettleMode(%d)", uint8(m))
	}
}

func (m SenderSettleMode) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint8(m))
}

func (m *SenderSettleMode) Unmarshal(r *buffer.Buffer) error {
	n, err := ReadUbyte(r)
	*m = SenderSettleMode(n)
	return err
}

// ReceiverSettleMode is the attach-negotiated settlement policy for the
// receiving side of a link.
type ReceiverSettleMode uint8

const (
	ReceiverSettleModeFirst  ReceiverSettleMode = 0
	ReceiverSettleModeSecond ReceiverSettleMode = 1
)

func (m ReceiverSettleMode) String() string {
	switch m {
	case ReceiverSettleModeFirst:
		return "first"
	case ReceiverSettleModeSecond:
		return "second"
	default:
		return fmt.Sprintf("ReceiverSettleMode(%d)", uint8(m))
	}
}

func (m ReceiverSettleMode) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint8(m))
}

func (m *ReceiverSettleMode) Unmarshal(r *buffer.Buffer) error {
	n, err := ReadUbyte(r)
	*m = ReceiverSettleMode(n)
	return err
}

// Durability indicates what terminus state survives across link/session
// lifetimes.
type Durability uint32

const (
	DurabilityNone             Durability = 0
	DurabilityConfiguration    Durability = 1
	DurabilityUnsettledState   Durability = 2
)

func (d Durability) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint32(d))
}

func (d *Durability) Unmarshal(r *buffer.Buffer) error {
	n, err := ReadUint(r)
	*d = Durability(n)
	return err
}

// ExpiryPolicy governs when an expiring terminus starts its expiry timer.
type ExpiryPolicy Symbol

const (
	ExpiryLinkDetach     ExpiryPolicy = "link-detach"
	ExpirySessionEnd     ExpiryPolicy = "session-end"
	ExpiryConnectionClose ExpiryPolicy = "connection-close"
	ExpiryNever          ExpiryPolicy = "never"
)

func ValidateExpiryPolicy(e ExpiryPolicy) error {
	switch e {
	case ExpiryLinkDetach, ExpirySessionEnd, ExpiryConnectionClose, ExpiryNever, "":
		return nil
	default:
		return fmt.Errorf("unknown expiry-policy %q", string(e))
	}
}

func (e ExpiryPolicy) Marshal(wr *buffer.Buffer) error {
	return Symbol(e).Marshal(wr)
}

func (e *ExpiryPolicy) Unmarshal(r *buffer.Buffer) error {
	var s Symbol
	if err := s.Unmarshal(r); err != nil {
		return err
	}
	*e = ExpiryPolicy(s)
	return nil
}

// ErrCond is an AMQP-defined error condition symbol.
type ErrCond string

// Error is the described-list "error" composite carried in detach/end/
// close performatives and in Rejected dispositions.
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[Symbol]interface{}
}

func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeError, []MarshalField{
		{Value: (*Symbol)(&e.Condition), Omit: e.Condition == ""},
		{Value: &e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}

func (e *Error) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, TypeCodeError, []UnmarshalField{
		{Field: (*Symbol)(&e.Condition), HandleNull: func() error { return fmt.Errorf("Error.Condition is required") }},
		{Field: &e.Description},
		{Field: &e.Info},
	}...)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Condition, e.Description)
}
