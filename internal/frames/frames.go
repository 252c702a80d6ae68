// Package frames implements the AMQP 1.0 frame layer: the fixed 8-byte
// frame header plus the performative (and SASL) composites that make up
// a frame's body.
package frames

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/encoding"
)

// HeaderSize is the number of bytes in a frame header, including the
// 4-byte size field that covers the header itself.
const HeaderSize = 8

// Header is the 8-byte prefix common to every AMQP and SASL frame.
type Header struct {
	Size       uint32 // includes the 8 header bytes
	DataOffset uint8  // in 4-byte words, minimum 2
	FrameType  uint8
	Channel    uint16
}

func (h Header) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint32(h.Size)
	wr.AppendByte(h.DataOffset)
	wr.AppendByte(h.FrameType)
	wr.AppendUint16(h.Channel)
	return nil
}

// ParseHeader consumes the 8 header bytes from r.
func ParseHeader(r *buffer.Buffer) (Header, error) {
	buf, ok := r.Next(HeaderSize)
	if !ok {
		return Header{}, errors.New("frames: incomplete header")
	}
	return Header{
		Size:       be32(buf[0:4]),
		DataOffset: buf[4],
		FrameType:  buf[5],
		Channel:    uint16(buf[6])<<8 | uint16(buf[7]),
	}, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// FrameBody is implemented by every performative and SASL frame body.
type FrameBody interface {
	frameBody()
}

// Source and Target are the terminus composites attached to a link; they
// live in the encoding package since Filter/Outcomes/MultiSymbol are
// codec concerns, but are named from frames since that's where callers
// reach for them when building an Attach.
type Source = encoding.Source
type Target = encoding.Target

const (
	typeCodeOpen        = encoding.AMQPType(0x10)
	typeCodeBegin       = encoding.AMQPType(0x11)
	typeCodeAttach      = encoding.AMQPType(0x12)
	typeCodeFlow        = encoding.AMQPType(0x13)
	typeCodeTransfer    = encoding.AMQPType(0x14)
	typeCodeDisposition = encoding.AMQPType(0x15)
	typeCodeDetach      = encoding.AMQPType(0x16)
	typeCodeEnd         = encoding.AMQPType(0x17)
	typeCodeClose       = encoding.AMQPType(0x18)

	typeCodeSASLMechanisms = encoding.AMQPType(0x40)
	typeCodeSASLInit       = encoding.AMQPType(0x41)
	typeCodeSASLChallenge  = encoding.AMQPType(0x42)
	typeCodeSASLResponse   = encoding.AMQPType(0x43)
	typeCodeSASLOutcome    = encoding.AMQPType(0x44)
)

// PerformOpen is the first frame sent on a connection to negotiate its
// top-level capabilities.
type PerformOpen struct {
	ContainerID         string // required
	Hostname            string
	MaxFrameSize        uint32 // default: 4294967295
	ChannelMax          uint16 // default: 65535
	IdleTimeout         time.Duration
	OutgoingLocales     encoding.MultiSymbol
	IncomingLocales     encoding.MultiSymbol
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]interface{}
}

func (o *PerformOpen) frameBody() {}

func (o *PerformOpen) String() string {
	return fmt.Sprintf("Open{ContainerID: %s, Hostname: %s, MaxFrameSize: %d, ChannelMax: %d, IdleTimeout: %v}",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeOpen, []encoding.MarshalField{
		{Value: &o.ContainerID, Omit: false},
		{Value: &o.Hostname, Omit: o.Hostname == ""},
		{Value: &o.MaxFrameSize, Omit: o.MaxFrameSize == 4294967295},
		{Value: &o.ChannelMax, Omit: o.ChannelMax == 65535},
		{Value: (*encoding.Milliseconds)(&o.IdleTimeout), Omit: o.IdleTimeout == 0},
		{Value: &o.OutgoingLocales, Omit: len(o.OutgoingLocales) == 0},
		{Value: &o.IncomingLocales, Omit: len(o.IncomingLocales) == 0},
		{Value: &o.OfferedCapabilities, Omit: len(o.OfferedCapabilities) == 0},
		{Value: &o.DesiredCapabilities, Omit: len(o.DesiredCapabilities) == 0},
		{Value: o.Properties, Omit: len(o.Properties) == 0},
	})
}

func (o *PerformOpen) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeOpen, []encoding.UnmarshalField{
		{Field: &o.ContainerID, HandleNull: func() error { return errors.New("Open.ContainerID is required") }},
		{Field: &o.Hostname},
		{Field: &o.MaxFrameSize, HandleNull: func() error { o.MaxFrameSize = 4294967295; return nil }},
		{Field: &o.ChannelMax, HandleNull: func() error { o.ChannelMax = 65535; return nil }},
		{Field: (*encoding.Milliseconds)(&o.IdleTimeout)},
		{Field: &o.OutgoingLocales},
		{Field: &o.IncomingLocales},
		{Field: &o.OfferedCapabilities},
		{Field: &o.DesiredCapabilities},
		{Field: &o.Properties},
	}...)
}

// PerformBegin starts a session on a channel.
type PerformBegin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32 // required
	IncomingWindow      uint32 // required
	OutgoingWindow      uint32 // required
	HandleMax           uint32 // default 4294967295
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[encoding.Symbol]interface{}
}

func (b *PerformBegin) frameBody() {}

func (b *PerformBegin) String() string {
	return fmt.Sprintf("Begin{RemoteChannel: %v, NextOutgoingID: %d, IncomingWindow: %d, OutgoingWindow: %d, HandleMax: %d}",
		b.RemoteChannel, b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow, b.HandleMax)
}

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeBegin, []encoding.MarshalField{
		{Value: b.RemoteChannel, Omit: b.RemoteChannel == nil},
		{Value: &b.NextOutgoingID, Omit: false},
		{Value: &b.IncomingWindow, Omit: false},
		{Value: &b.OutgoingWindow, Omit: false},
		{Value: &b.HandleMax, Omit: b.HandleMax == 4294967295},
		{Value: &b.OfferedCapabilities, Omit: len(b.OfferedCapabilities) == 0},
		{Value: &b.DesiredCapabilities, Omit: len(b.DesiredCapabilities) == 0},
		{Value: b.Properties, Omit: len(b.Properties) == 0},
	})
}

func (b *PerformBegin) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeBegin, []encoding.UnmarshalField{
		{Field: &b.RemoteChannel},
		{Field: &b.NextOutgoingID, HandleNull: func() error { return errors.New("Begin.NextOutgoingID is required") }},
		{Field: &b.IncomingWindow, HandleNull: func() error { return errors.New("Begin.IncomingWindow is required") }},
		{Field: &b.OutgoingWindow, HandleNull: func() error { return errors.New("Begin.OutgoingWindow is required") }},
		{Field: &b.HandleMax, HandleNull: func() error { b.HandleMax = 4294967295; return nil }},
		{Field: &b.OfferedCapabilities},
		{Field: &b.DesiredCapabilities},
		{Field: &b.Properties},
	}...)
}

// PerformAttach opens a link on a session.
type PerformAttach struct {
	Name                string // required
	Handle              uint32 // required
	Role                encoding.Role
	SenderSettleMode    *encoding.SenderSettleMode
	ReceiverSettleMode  *encoding.ReceiverSettleMode
	Source              *Source
	Target              *Target
	Unsettled           encoding.Unsettled
	IncompleteUnsettled bool
	InitialDeliveryCount uint32
	MaxMessageSize       uint64
	OfferedCapabilities  encoding.MultiSymbol
	DesiredCapabilities  encoding.MultiSymbol
	Properties           map[encoding.Symbol]interface{}
}

func (a *PerformAttach) frameBody() {}

func (a *PerformAttach) String() string {
	return fmt.Sprintf("Attach{Name: %s, Handle: %d, Role: %s}", a.Name, a.Handle, a.Role)
}

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeAttach, []encoding.MarshalField{
		{Value: &a.Name, Omit: false},
		{Value: &a.Handle, Omit: false},
		{Value: &a.Role, Omit: false},
		{Value: a.SenderSettleMode, Omit: a.SenderSettleMode == nil},
		{Value: a.ReceiverSettleMode, Omit: a.ReceiverSettleMode == nil},
		{Value: a.Source, Omit: a.Source == nil},
		{Value: a.Target, Omit: a.Target == nil},
		{Value: a.Unsettled, Omit: len(a.Unsettled) == 0},
		{Value: &a.IncompleteUnsettled, Omit: !a.IncompleteUnsettled},
		{Value: &a.InitialDeliveryCount, Omit: a.Role == encoding.RoleReceiver},
		{Value: &a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
		{Value: &a.OfferedCapabilities, Omit: len(a.OfferedCapabilities) == 0},
		{Value: &a.DesiredCapabilities, Omit: len(a.DesiredCapabilities) == 0},
		{Value: a.Properties, Omit: len(a.Properties) == 0},
	})
}

func (a *PerformAttach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeAttach, []encoding.UnmarshalField{
		{Field: &a.Name, HandleNull: func() error { return errors.New("Attach.Name is required") }},
		{Field: &a.Handle, HandleNull: func() error { return errors.New("Attach.Handle is required") }},
		{Field: &a.Role, HandleNull: func() error { return errors.New("Attach.Role is required") }},
		{Field: &a.SenderSettleMode},
		{Field: &a.ReceiverSettleMode},
		{Field: &a.Source},
		{Field: &a.Target},
		{Field: &a.Unsettled},
		{Field: &a.IncompleteUnsettled},
		{Field: &a.InitialDeliveryCount},
		{Field: &a.MaxMessageSize},
		{Field: &a.OfferedCapabilities},
		{Field: &a.DesiredCapabilities},
		{Field: &a.Properties},
	}...)
}

// PerformFlow updates session/link credit windows.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32 // required
	NextOutgoingID uint32 // required
	OutgoingWindow uint32 // required
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[encoding.Symbol]interface{}
}

func (f *PerformFlow) frameBody() {}

func (f *PerformFlow) String() string {
	return fmt.Sprintf("Flow{Handle: %v, DeliveryCount: %v, LinkCredit: %v, Drain: %t, Echo: %t}",
		f.Handle, f.DeliveryCount, f.LinkCredit, f.Drain, f.Echo)
}

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeFlow, []encoding.MarshalField{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: &f.IncomingWindow, Omit: false},
		{Value: &f.NextOutgoingID, Omit: false},
		{Value: &f.OutgoingWindow, Omit: false},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Available, Omit: f.Available == nil},
		{Value: &f.Drain, Omit: !f.Drain},
		{Value: &f.Echo, Omit: !f.Echo},
		{Value: f.Properties, Omit: len(f.Properties) == 0},
	})
}

func (f *PerformFlow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeFlow, []encoding.UnmarshalField{
		{Field: &f.NextIncomingID},
		{Field: &f.IncomingWindow, HandleNull: func() error { return errors.New("Flow.IncomingWindow is required") }},
		{Field: &f.NextOutgoingID, HandleNull: func() error { return errors.New("Flow.NextOutgoingID is required") }},
		{Field: &f.OutgoingWindow, HandleNull: func() error { return errors.New("Flow.OutgoingWindow is required") }},
		{Field: &f.Handle},
		{Field: &f.DeliveryCount},
		{Field: &f.LinkCredit},
		{Field: &f.Available},
		{Field: &f.Drain},
		{Field: &f.Echo},
		{Field: &f.Properties},
	}...)
}

// PerformTransfer carries (a slice of) a message on a link.
type PerformTransfer struct {
	Handle             uint32 // required
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State              encoding.DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool
	Payload            []byte

	// Done, when non-nil, receives the delivery state from the peer's
	// disposition for an unsettled transfer; for a settled transfer it is
	// closed before the transfer is handed to the link, since no
	// disposition will arrive.
	Done chan encoding.DeliveryState
}

func (t *PerformTransfer) frameBody() {}

func (t *PerformTransfer) String() string {
	return fmt.Sprintf("Transfer{Handle: %d, DeliveryID: %v, Settled: %t, More: %t, Payload: %d bytes}",
		t.Handle, t.DeliveryID, t.Settled, t.More, len(t.Payload))
}

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	err := encoding.MarshalComposite(wr, typeCodeTransfer, []encoding.MarshalField{
		{Value: &t.Handle, Omit: false},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: &t.DeliveryTag, Omit: len(t.DeliveryTag) == 0},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: &t.Settled, Omit: !t.Settled},
		{Value: &t.More, Omit: !t.More},
		{Value: t.ReceiverSettleMode, Omit: t.ReceiverSettleMode == nil},
		{Value: t.State, Omit: t.State == nil},
		{Value: &t.Resume, Omit: !t.Resume},
		{Value: &t.Aborted, Omit: !t.Aborted},
		{Value: &t.Batchable, Omit: !t.Batchable},
	})
	if err != nil {
		return err
	}
	wr.Append(t.Payload)
	return nil
}

func (t *PerformTransfer) Unmarshal(r *buffer.Buffer) error {
	err := encoding.UnmarshalComposite(r, typeCodeTransfer, []encoding.UnmarshalField{
		{Field: &t.Handle, HandleNull: func() error { return errors.New("Transfer.Handle is required") }},
		{Field: &t.DeliveryID},
		{Field: &t.DeliveryTag},
		{Field: &t.MessageFormat},
		{Field: &t.Settled},
		{Field: &t.More},
		{Field: &t.ReceiverSettleMode},
		{Field: &t.State},
		{Field: &t.Resume},
		{Field: &t.Aborted},
		{Field: &t.Batchable},
	}...)
	if err != nil {
		return err
	}
	t.Payload = append([]byte(nil), r.Bytes()...)
	return nil
}

// PerformDisposition settles or updates the state of a contiguous range
// of deliveries.
type PerformDisposition struct {
	Role      encoding.Role
	First     uint32 // required
	Last      *uint32
	Settled   bool
	State     encoding.DeliveryState
	Batchable bool
}

func (d *PerformDisposition) frameBody() {}

func (d *PerformDisposition) String() string {
	return fmt.Sprintf("Disposition{Role: %s, First: %d, Last: %v, Settled: %t, State: %v}",
		d.Role, d.First, d.Last, d.Settled, d.State)
}

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeDisposition, []encoding.MarshalField{
		{Value: &d.Role, Omit: false},
		{Value: &d.First, Omit: false},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: &d.Settled, Omit: !d.Settled},
		{Value: d.State, Omit: d.State == nil},
		{Value: &d.Batchable, Omit: !d.Batchable},
	})
}

func (d *PerformDisposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeDisposition, []encoding.UnmarshalField{
		{Field: &d.Role, HandleNull: func() error { return errors.New("Disposition.Role is required") }},
		{Field: &d.First, HandleNull: func() error { return errors.New("Disposition.First is required") }},
		{Field: &d.Last},
		{Field: &d.Settled},
		{Field: &d.State},
		{Field: &d.Batchable},
	}...)
}

// PerformDetach removes a link without ending its session.
type PerformDetach struct {
	Handle uint32 // required
	Closed bool
	Error  *encoding.Error
}

func (d *PerformDetach) frameBody() {}

func (d *PerformDetach) String() string {
	return fmt.Sprintf("Detach{Handle: %d, Closed: %t, Error: %v}", d.Handle, d.Closed, d.Error)
}

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeDetach, []encoding.MarshalField{
		{Value: &d.Handle, Omit: false},
		{Value: &d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *PerformDetach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeDetach, []encoding.UnmarshalField{
		{Field: &d.Handle, HandleNull: func() error { return errors.New("Detach.Handle is required") }},
		{Field: &d.Closed},
		{Field: &d.Error},
	}...)
}

// PerformEnd ends a session.
type PerformEnd struct {
	Error *encoding.Error
}

func (e *PerformEnd) frameBody() {}

func (e *PerformEnd) String() string { return fmt.Sprintf("End{Error: %v}", e.Error) }

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeEnd, []encoding.MarshalField{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *PerformEnd) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeEnd, encoding.UnmarshalField{Field: &e.Error})
}

// PerformClose ends a connection.
type PerformClose struct {
	Error *encoding.Error
}

func (c *PerformClose) frameBody() {}

func (c *PerformClose) String() string { return fmt.Sprintf("Close{Error: %v}", c.Error) }

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeClose, []encoding.MarshalField{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *PerformClose) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeClose, encoding.UnmarshalField{Field: &c.Error})
}

// SASLMechanisms announces the SASL mechanisms the server supports.
type SASLMechanisms struct {
	Mechanisms encoding.MultiSymbol
}

func (m *SASLMechanisms) frameBody() {}

func (m *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeSASLMechanisms, []encoding.MarshalField{
		{Value: &m.Mechanisms, Omit: false},
	})
}

func (m *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeSASLMechanisms, encoding.UnmarshalField{
		Field:      &m.Mechanisms,
		HandleNull: func() error { return errors.New("SASLMechanisms.Mechanisms is required") },
	})
}

// SASLInit begins a SASL exchange with the client's chosen mechanism.
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (si *SASLInit) frameBody() {}

func (si *SASLInit) String() string {
	return fmt.Sprintf("SASLInit{Mechanism: %s, InitialResponse: ********, Hostname: %s}", si.Mechanism, si.Hostname)
}

func (si *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeSASLInit, []encoding.MarshalField{
		{Value: &si.Mechanism, Omit: false},
		{Value: &si.InitialResponse, Omit: len(si.InitialResponse) == 0},
		{Value: &si.Hostname, Omit: si.Hostname == ""},
	})
}

func (si *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeSASLInit, []encoding.UnmarshalField{
		{Field: &si.Mechanism, HandleNull: func() error { return errors.New("SASLInit.Mechanism is required") }},
		{Field: &si.InitialResponse},
		{Field: &si.Hostname},
	}...)
}

// SASLChallenge carries a server challenge.
type SASLChallenge struct {
	Challenge []byte
}

func (sc *SASLChallenge) frameBody() {}

func (sc *SASLChallenge) String() string { return "SASLChallenge{Challenge: ********}" }

func (sc *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeSASLChallenge, []encoding.MarshalField{
		{Value: &sc.Challenge, Omit: false},
	})
}

func (sc *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeSASLChallenge, []encoding.UnmarshalField{
		{Field: &sc.Challenge, HandleNull: func() error { return errors.New("SASLChallenge.Challenge is required") }},
	}...)
}

// SASLResponse carries a client response to a challenge.
type SASLResponse struct {
	Response []byte
}

func (sr *SASLResponse) frameBody() {}

func (sr *SASLResponse) String() string { return "SASLResponse{Response: ********}" }

func (sr *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeSASLResponse, []encoding.MarshalField{
		{Value: &sr.Response, Omit: false},
	})
}

func (sr *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeSASLResponse, []encoding.UnmarshalField{
		{Field: &sr.Response, HandleNull: func() error { return errors.New("SASLResponse.Response is required") }},
	}...)
}

// SASLCode is the outcome code of a SASL exchange.
type SASLCode uint8

const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

func (s SASLCode) Marshal(wr *buffer.Buffer) error {
	return encoding.Marshal(wr, uint8(s))
}

func (s *SASLCode) Unmarshal(r *buffer.Buffer) error {
	n, err := encoding.ReadUbyte(r)
	*s = SASLCode(n)
	return err
}

// SASLOutcome announces the final result of a SASL exchange.
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (so *SASLOutcome) frameBody() {}

func (so *SASLOutcome) String() string {
	return fmt.Sprintf("SASLOutcome{Code: %d, AdditionalData: %v}", so.Code, so.AdditionalData)
}

func (so *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, typeCodeSASLOutcome, []encoding.MarshalField{
		{Value: &so.Code, Omit: false},
		{Value: &so.AdditionalData, Omit: len(so.AdditionalData) == 0},
	})
}

func (so *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, typeCodeSASLOutcome, []encoding.UnmarshalField{
		{Field: &so.Code, HandleNull: func() error { return errors.New("SASLOutcome.Code is required") }},
		{Field: &so.AdditionalData},
	}...)
}

// ParseBody decodes a frame body whose descriptor code is peeked first so
// the correct concrete type can be allocated before Unmarshal consumes it.
func ParseBody(r *buffer.Buffer) (FrameBody, error) {
	code, err := peekDescriptorCode(r)
	if err != nil {
		return nil, err
	}

	var body FrameBody
	switch code {
	case uint64(typeCodeOpen):
		body = new(PerformOpen)
	case uint64(typeCodeBegin):
		body = new(PerformBegin)
	case uint64(typeCodeAttach):
		body = new(PerformAttach)
	case uint64(typeCodeFlow):
		body = new(PerformFlow)
	case uint64(typeCodeTransfer):
		body = new(PerformTransfer)
	case uint64(typeCodeDisposition):
		body = new(PerformDisposition)
	case uint64(typeCodeDetach):
		body = new(PerformDetach)
	case uint64(typeCodeEnd):
		body = new(PerformEnd)
	case uint64(typeCodeClose):
		body = new(PerformClose)
	case uint64(typeCodeSASLMechanisms):
		body = new(SASLMechanisms)
	case uint64(typeCodeSASLInit):
		body = new(SASLInit)
	case uint64(typeCodeSASLChallenge):
		body = new(SASLChallenge)
	case uint64(typeCodeSASLResponse):
		body = new(SASLResponse)
	case uint64(typeCodeSASLOutcome):
		body = new(SASLOutcome)
	default:
		return nil, errors.Errorf("frames: unknown performative descriptor %#x", code)
	}

	if err := body.(encoding.Unmarshaler).Unmarshal(r); err != nil {
		return nil, err
	}
	return body, nil
}

// peekDescriptorCode reads the numeric descriptor of the described
// composite at the front of r without advancing the cursor.
func peekDescriptorCode(r *buffer.Buffer) (uint64, error) {
	buf, ok := r.Peek(2)
	if !ok {
		return 0, errors.New("frames: incomplete performative")
	}
	if buf[0] != 0x0 {
		return 0, errors.Errorf("frames: expected described-type constructor, got %#02x", buf[0])
	}
	switch buf[1] {
	case byte(encoding.TypeCodeSmallUlong):
		buf, ok := r.Peek(3)
		if !ok {
			return 0, errors.New("frames: incomplete performative descriptor")
		}
		return uint64(buf[2]), nil
	case byte(encoding.TypeCodeUlong):
		buf, ok := r.Peek(10)
		if !ok {
			return 0, errors.New("frames: incomplete performative descriptor")
		}
		b := buf[2:10]
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v, nil
	default:
		return 0, errors.Errorf("frames: unsupported descriptor format code %#02x", buf[1])
	}
}
