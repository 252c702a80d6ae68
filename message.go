package amqp

import (
	"time"

	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/encoding"
)

// MessageHeader carries transport-level delivery hints that travel with
// a message but aren't part of its application content.
type MessageHeader struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

func (h *MessageHeader) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageHeader, []encoding.MarshalField{
		{Value: &h.Durable, Omit: !h.Durable},
		{Value: &h.Priority, Omit: h.Priority == 4},
		{Value: (*encoding.Milliseconds)(&h.TTL), Omit: h.TTL == 0},
		{Value: &h.FirstAcquirer, Omit: !h.FirstAcquirer},
		{Value: &h.DeliveryCount, Omit: h.DeliveryCount == 0},
	})
}

func (h *MessageHeader) unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageHeader, []encoding.UnmarshalField{
		{Field: &h.Durable},
		{Field: &h.Priority, HandleNull: func() error { h.Priority = 4; return nil }},
		{Field: (*encoding.Milliseconds)(&h.TTL)},
		{Field: &h.FirstAcquirer},
		{Field: &h.DeliveryCount},
	}...)
}

// MessageProperties carries the standard, application-meaningful message
// metadata (message-id, addressing, content-type, timestamps).
type MessageProperties struct {
	MessageID          interface{}
	UserID             []byte
	To                 string
	Subject            string
	ReplyTo            string
	CorrelationID      interface{}
	ContentType        string
	ContentEncoding    string
	AbsoluteExpiryTime time.Time
	CreationTime       time.Time
	GroupID            string
	GroupSequence      uint32
	ReplyToGroupID     string
}

func (p *MessageProperties) marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeMessageProperties, []encoding.MarshalField{
		{Value: p.MessageID, Omit: p.MessageID == nil},
		{Value: &p.UserID, Omit: len(p.UserID) == 0},
		{Value: &p.To, Omit: p.To == ""},
		{Value: &p.Subject, Omit: p.Subject == ""},
		{Value: &p.ReplyTo, Omit: p.ReplyTo == ""},
		{Value: p.CorrelationID, Omit: p.CorrelationID == nil},
		{Value: (*encoding.Symbol)(&p.ContentType), Omit: p.ContentType == ""},
		{Value: (*encoding.Symbol)(&p.ContentEncoding), Omit: p.ContentEncoding == ""},
		{Value: &p.AbsoluteExpiryTime, Omit: p.AbsoluteExpiryTime.IsZero()},
		{Value: &p.CreationTime, Omit: p.CreationTime.IsZero()},
		{Value: &p.GroupID, Omit: p.GroupID == ""},
		{Value: &p.GroupSequence, Omit: p.GroupSequence == 0},
		{Value: &p.ReplyToGroupID, Omit: p.ReplyToGroupID == ""},
	})
}

func (p *MessageProperties) unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.TypeCodeMessageProperties, []encoding.UnmarshalField{
		{Field: &p.MessageID},
		{Field: &p.UserID},
		{Field: &p.To},
		{Field: &p.Subject},
		{Field: &p.ReplyTo},
		{Field: &p.CorrelationID},
		{Field: (*encoding.Symbol)(&p.ContentType)},
		{Field: (*encoding.Symbol)(&p.ContentEncoding)},
		{Field: &p.AbsoluteExpiryTime},
		{Field: &p.CreationTime},
		{Field: &p.GroupID},
		{Field: &p.GroupSequence},
		{Field: &p.ReplyToGroupID},
	}...)
}

// Message is a single AMQP message: a header, four annotation/property
// sections, a body (carried as one or more opaque data sections), and an
// optional footer.
type Message struct {
	// Format is the wire message-format tag; 0 for normal AMQP messages.
	Format uint32

	// DeliveryTag identifies this delivery within the link; if left empty,
	// Sender.Send assigns a sequential one.
	DeliveryTag []byte

	// SendSettled, when the link's sender-settle-mode is Mixed, marks this
	// particular send as pre-settled.
	SendSettled bool

	Header                MessageHeader
	DeliveryAnnotations   encoding.Annotations
	Annotations           encoding.Annotations
	Properties            MessageProperties
	ApplicationProperties map[string]interface{}
	Data                  [][]byte
	Footer                encoding.Annotations

	// deliveryID, if non-nil, is the transfer delivery-id this Message was
	// received on, needed by Receiver.AcceptMessage/RejectMessage/
	// ReleaseMessage/ModifyMessage.
	deliveryID *uint32
	rcv        *Receiver
}

// NewMessage creates a Message whose body is a single opaque data
// section containing data.
func NewMessage(data []byte) *Message {
	return &Message{Data: [][]byte{data}}
}

// GetData returns the message body, concatenating all data sections.
func (m *Message) GetData() []byte {
	if len(m.Data) == 1 {
		return m.Data[0]
	}
	var out []byte
	for _, d := range m.Data {
		out = append(out, d...)
	}
	return out
}

func (m *Message) Marshal(wr *buffer.Buffer) error {
	if m.Header != (MessageHeader{}) {
		if err := m.Header.marshal(wr); err != nil {
			return err
		}
	}
	if len(m.DeliveryAnnotations) > 0 {
		if err := encoding.MarshalComposite(wr, encoding.TypeCodeDeliveryAnnotations, []encoding.MarshalField{{Value: m.DeliveryAnnotations}}); err != nil {
			return err
		}
	}
	if len(m.Annotations) > 0 {
		if err := encoding.MarshalComposite(wr, encoding.TypeCodeMessageAnnotations, []encoding.MarshalField{{Value: m.Annotations}}); err != nil {
			return err
		}
	}
	if err := m.Properties.marshal(wr); err != nil {
		return err
	}
	if len(m.ApplicationProperties) > 0 {
		if err := encoding.MarshalComposite(wr, encoding.TypeCodeApplicationProperties, []encoding.MarshalField{{Value: m.ApplicationProperties}}); err != nil {
			return err
		}
	}
	for _, d := range m.Data {
		encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationData)
		if err := encoding.WriteBinary(wr, d); err != nil {
			return err
		}
	}
	if len(m.Footer) > 0 {
		if err := encoding.MarshalComposite(wr, encoding.TypeCodeFooter, []encoding.MarshalField{{Value: m.Footer}}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) Unmarshal(r *buffer.Buffer) error {
	for r.Len() > 0 {
		code, err := encoding.PeekCompositeDescriptor(r)
		if err != nil {
			return err
		}

		switch encoding.AMQPType(code) {
		case encoding.TypeCodeMessageHeader:
			if err := m.Header.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeDeliveryAnnotations:
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeDeliveryAnnotations, encoding.UnmarshalField{Field: &m.DeliveryAnnotations}); err != nil {
				return err
			}
		case encoding.TypeCodeMessageAnnotations:
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeMessageAnnotations, encoding.UnmarshalField{Field: &m.Annotations}); err != nil {
				return err
			}
		case encoding.TypeCodeMessageProperties:
			if err := m.Properties.unmarshal(r); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationProperties:
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeApplicationProperties, encoding.UnmarshalField{Field: &m.ApplicationProperties}); err != nil {
				return err
			}
		case encoding.TypeCodeApplicationData:
			// a data section is a described binary, not a described list
			if _, _, err := encoding.PeekCompositeCode(r); err != nil {
				return err
			}
			var data []byte
			if err := encoding.Unmarshal(r, &data); err != nil {
				return err
			}
			m.Data = append(m.Data, data)
		case encoding.TypeCodeFooter:
			if err := encoding.UnmarshalComposite(r, encoding.TypeCodeFooter, encoding.UnmarshalField{Field: &m.Footer}); err != nil {
				return err
			}
		default:
			return encoding.InvalidArrayElement{Wanted: 0, Got: encoding.AMQPType(code)}
		}
	}
	return nil
}
