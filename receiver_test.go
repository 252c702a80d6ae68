package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/mocks"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestReceiverAttachAndClose(t *testing.T) {
	defer leaktest.Check(t)()

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *frames.PerformAttach:
			return mocks.ReceiverAttach(fr.Name, 0, ModeFirst)
		case *frames.PerformFlow:
			return nil, nil
		case *frames.PerformDetach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	receiver, err := session.NewReceiver(ctx, "test-source", nil)
	require.NoError(t, err)
	require.Equal(t, "test-source", receiver.Address())

	require.NoError(t, receiver.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

func TestReceiverReceiveAutoSettle(t *testing.T) {
	defer leaktest.Check(t)()

	sentTransfer := false

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *frames.PerformAttach:
			return mocks.ReceiverAttach(fr.Name, 0, ModeFirst)
		case *frames.PerformFlow:
			if sentTransfer {
				return nil, nil
			}
			sentTransfer = true
			return mocks.PerformTransfer(0, 1, []byte("hello"))
		case *frames.PerformDetach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	mode := ModeFirst
	receiver, err := session.NewReceiver(ctx, "test-source", &ReceiverOptions{SettlementMode: &mode})
	require.NoError(t, err)

	msg, err := receiver.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg.GetData())

	require.NoError(t, receiver.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

// TestReceiverReceiveAborted checks that an aborted delivery surfaces as
// ErrDeliveryAborted instead of being dropped silently.
func TestReceiverReceiveAborted(t *testing.T) {
	defer leaktest.Check(t)()

	sentTransfer := false

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *frames.PerformAttach:
			return mocks.ReceiverAttach(fr.Name, 0, ModeFirst)
		case *frames.PerformFlow:
			if sentTransfer {
				return nil, nil
			}
			sentTransfer = true
			return mocks.PerformTransferAborted(0, 1)
		case *frames.PerformDetach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	mode := ModeFirst
	receiver, err := session.NewReceiver(ctx, "test-source", &ReceiverOptions{SettlementMode: &mode})
	require.NoError(t, err)

	_, err = receiver.Receive(ctx)
	require.True(t, errors.Is(err, ErrDeliveryAborted))

	require.NoError(t, receiver.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}
