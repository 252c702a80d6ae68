// Package management implements the generic request/response exchange
// brokers expose over a well-known management link address (ActiveMQ and
// Azure Service Bus both use "$management" by default).
package management

import (
	"context"
	"fmt"

	amqp "github.com/amqp10/go-amqp"
	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/encoding"
)

// defaultAddress is the management node address used when a Client
// isn't given one explicitly.
const defaultAddress = "$management"

// Client issues request/response management operations over a
// Sender/Receiver pair attached to a broker's management node.
type Client struct {
	address  string
	sender   *amqp.Sender
	receiver *amqp.Receiver
}

// NewClient attaches a Sender and Receiver to the management node at
// address (defaultAddress if empty) on session.
func NewClient(ctx context.Context, session *amqp.Session, address string) (*Client, error) {
	if address == "" {
		address = defaultAddress
	}

	sender, err := session.NewSender(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("management: attaching sender: %w", err)
	}

	receiver, err := session.NewReceiver(ctx, address, &amqp.ReceiverOptions{DynamicAddress: true})
	if err != nil {
		_ = sender.Close(ctx)
		return nil, fmt.Errorf("management: attaching receiver: %w", err)
	}

	return &Client{address: address, sender: sender, receiver: receiver}, nil
}

// Close detaches the Client's sender and receiver.
func (c *Client) Close(ctx context.Context) error {
	err := c.sender.Close(ctx)
	if rerr := c.receiver.Close(ctx); err == nil {
		err = rerr
	}
	return err
}

// StatusError is returned by Call when the response carries a non-2xx
// status code.
type StatusError struct {
	Code        int
	Description string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("management: status %d: %s", e.Code, e.Description)
}

// statusCode coerces a decoded application-property value into a status
// code. The generic codec hands back whatever concrete numeric type the
// wire value decoded to (int32 for Int/Smallint, int64 for Long/Smalllong),
// so a broker using either encoding for statusCode must be tolerated.
func statusCode(v interface{}) int {
	switch c := v.(type) {
	case int64:
		return int(c)
	case int32:
		return int(c)
	case int:
		return c
	default:
		return 0
	}
}

// Call issues a single management request and returns the raw response
// message. operation and entityType populate the "operation" and "type"
// application-properties every management request carries; properties
// are request-specific parameters carried in the message body, and
// applicationProperties are merged into the outgoing application-properties
// alongside operation/type.
func (c *Client) Call(ctx context.Context, operation, entityType, messageID string, properties, applicationProperties map[string]any) (*amqp.Message, error) {
	appProps := map[string]interface{}{
		"operation": operation,
		"type":      entityType,
	}
	for k, v := range applicationProperties {
		appProps[k] = v
	}

	bodyProps := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		bodyProps[k] = v
	}

	req := &amqp.Message{
		Properties: amqp.MessageProperties{
			MessageID: messageID,
			ReplyTo:   c.receiver.Address(),
		},
		ApplicationProperties: appProps,
	}

	wr := buffer.New(nil)
	if err := encoding.Marshal(wr, bodyProps); err != nil {
		return nil, fmt.Errorf("management: encoding request body: %w", err)
	}
	req.Data = [][]byte{wr.Detach()}

	if err := c.sender.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("management: sending request: %w", err)
	}

	for {
		resp, err := c.receiver.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("management: receiving response: %w", err)
		}
		if resp.Properties.CorrelationID != messageID && messageID != "" {
			// a response to an earlier, abandoned request; ignore and keep waiting
			_ = c.receiver.AcceptMessage(ctx, resp)
			continue
		}
		_ = c.receiver.AcceptMessage(ctx, resp)

		code := statusCode(resp.ApplicationProperties["statusCode"])
		if code == 0 {
			code = 200
		}
		if code < 200 || code >= 300 {
			desc, _ := resp.ApplicationProperties["statusDescription"].(string)
			return resp, &StatusError{Code: code, Description: desc}
		}
		return resp, nil
	}
}
