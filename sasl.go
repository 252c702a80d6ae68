package amqp

import (
	"context"
	"fmt"

	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
)

// SASLType selects and drives a single SASL mechanism during the
// connection handshake. Obtain one from SASLTypeAnonymous, SASLTypePlain
// or SASLTypeExternal and set it on ConnOptions.SASLType.
type SASLType interface {
	// mechanism is the mechanism name offered in SASLInit.
	mechanism() encoding.Symbol
	// initialResponse computes the SASLInit initial-response for hostname.
	initialResponse(hostname string) []byte
}

type saslTypeAnonymous struct{}

func (saslTypeAnonymous) mechanism() encoding.Symbol { return "ANONYMOUS" }

func (saslTypeAnonymous) initialResponse(string) []byte { return []byte{} }

// SASLTypeAnonymous selects the ANONYMOUS SASL mechanism, used by brokers
// that don't require credentials over the connection itself (e.g. when
// authorization happens at the transport layer, such as mTLS).
func SASLTypeAnonymous() SASLType {
	return saslTypeAnonymous{}
}

type saslTypePlain struct {
	username string
	password string
}

func (saslTypePlain) mechanism() encoding.Symbol { return "PLAIN" }

func (s saslTypePlain) initialResponse(string) []byte {
	// SASL PLAIN: [authzid] UTF8NUL authcid UTF8NUL passwd
	resp := make([]byte, 0, len(s.username)+len(s.password)+2)
	resp = append(resp, 0)
	resp = append(resp, s.username...)
	resp = append(resp, 0)
	resp = append(resp, s.password...)
	return resp
}

// SASLTypePlain selects the PLAIN SASL mechanism, authenticating with a
// username and password sent as the initial response (no challenge
// round-trip).
func SASLTypePlain(username, password string) SASLType {
	return saslTypePlain{username: username, password: password}
}

type saslTypeExternal struct{}

func (saslTypeExternal) mechanism() encoding.Symbol { return "EXTERNAL" }

func (saslTypeExternal) initialResponse(string) []byte { return []byte{} }

// SASLTypeExternal selects the EXTERNAL SASL mechanism, deferring
// authentication entirely to the transport (e.g. a client TLS
// certificate already presented during the TCP/TLS handshake).
func SASLTypeExternal() SASLType {
	return saslTypeExternal{}
}

// saslHandshake performs the SASL protocol header exchange, advertises
// c.saslType's mechanism, and processes the server's outcome. Only
// mechanisms with no challenge round-trip are supported, matching the
// three SASLType constructors above.
func (c *conn) saslHandshake(ctx context.Context) error {
	if err := writeProtoHeader(c.netConn, protoIDSASL); err != nil {
		return err
	}
	if err := readProtoHeader(c.netConn, protoIDSASL); err != nil {
		return err
	}

	fr, err := readFrame(c.netConn)
	if err != nil {
		return err
	}
	mechanisms, ok := fr.(*frames.SASLMechanisms)
	if !ok {
		return fmt.Errorf("amqp: expected sasl-mechanisms, got %T", fr)
	}

	want := c.saslType.mechanism()
	var offered bool
	for _, m := range mechanisms.Mechanisms {
		if m == want {
			offered = true
			break
		}
	}
	if !offered {
		return fmt.Errorf("amqp: server does not support SASL mechanism %s", want)
	}

	init := &frames.SASLInit{
		Mechanism:       want,
		InitialResponse: c.saslType.initialResponse(c.hostname),
		Hostname:        c.hostname,
	}
	if err := writeFrame(c.netConn, 0, init); err != nil {
		return err
	}

	fr, err = readFrame(c.netConn)
	if err != nil {
		return err
	}
	outcome, ok := fr.(*frames.SASLOutcome)
	if !ok {
		return fmt.Errorf("amqp: expected sasl-outcome, got %T", fr)
	}
	if outcome.Code != frames.SASLCodeOK {
		return fmt.Errorf("amqp: SASL handshake failed with code %d", outcome.Code)
	}
	return nil
}
