package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/mocks"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

// TestLinkAttachUnexpectedFrame checks that attachLink surfaces an error
// when the peer's reply to an attach isn't itself an attach.
func TestLinkAttachUnexpectedFrame(t *testing.T) {
	defer leaktest.Check(t)()

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *frames.PerformAttach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := session.NewSender(ctx, "test-target", nil)
	require.Error(t, err)

	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

// TestLinkAttachRefused checks that when the peer refuses an attach (null
// source/target echoed back, followed by a detach), attachLink consumes
// the detach, echoes a closing detach of its own, and returns
// LinkAttachRefused rather than leaving the peer's detach unhandled.
func TestLinkAttachRefused(t *testing.T) {
	defer leaktest.Check(t)()

	var gotClosingDetach bool

	client, session := newTestSession(t, func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *frames.PerformAttach:
			refusal, err := mocks.AttachRefused(fr.Name, fr.Handle, encoding.RoleReceiver)
			if err != nil {
				return nil, err
			}
			detach, err := mocks.PerformDetach(fr.Handle, &encoding.Error{Condition: ErrCondNotFound})
			if err != nil {
				return nil, err
			}
			return append(refusal, detach...), nil
		case *frames.PerformDetach:
			gotClosingDetach = true
			return nil, nil
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := session.NewSender(ctx, "test-target", nil)
	require.Error(t, err)

	var refused *LinkAttachRefused
	require.True(t, errors.As(err, &refused))
	require.NotNil(t, refused.RemoteError)
	require.Equal(t, ErrCondNotFound, refused.RemoteError.Condition)
	require.True(t, gotClosingDetach, "expected the refused attach to be answered with a closing detach")

	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}
