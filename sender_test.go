package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/mocks"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, linkResp func(req frames.FrameBody) ([]byte, error)) (*Client, *Session) {
	client := newTestClient(t, func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		}
		return linkResp(req)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := client.NewSession(ctx, nil)
	require.NoError(t, err)
	return client, session
}

func TestSenderAttachAndClose(t *testing.T) {
	defer leaktest.Check(t)()

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *frames.PerformAttach:
			return mocks.SenderAttach(fr.Name, 0, ModeUnsettled)
		case *frames.PerformDetach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender, err := session.NewSender(ctx, "test-target", nil)
	require.NoError(t, err)
	require.Equal(t, "test-target", sender.Address())

	require.NoError(t, sender.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

func TestSenderSend(t *testing.T) {
	defer leaktest.Check(t)()

	var deliveryID uint32

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *frames.PerformAttach:
			attachResp, err := mocks.SenderAttach(fr.Name, 0, ModeUnsettled)
			if err != nil {
				return nil, err
			}
			flowResp, err := mocks.PerformFlow(0, 0, 10)
			if err != nil {
				return nil, err
			}
			return append(attachResp, flowResp...), nil
		case *frames.PerformTransfer:
			deliveryID = *fr.DeliveryID
			return mocks.PerformDisposition(deliveryID, &encoding.StateAccepted{})
		case *frames.PerformDetach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	mode := ModeUnsettled
	sender, err := session.NewSender(ctx, "test-target", &SenderOptions{SettlementMode: &mode})
	require.NoError(t, err)

	err = sender.Send(ctx, NewMessage([]byte("hello")))
	require.NoError(t, err)

	require.NoError(t, sender.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}
