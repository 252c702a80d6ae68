package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSenderSettleModeValueDefault(t *testing.T) {
	require.Equal(t, ModeUnsettled, senderSettleModeValue(nil))
	mode := ModeSettled
	require.Equal(t, ModeSettled, senderSettleModeValue(&mode))
}

func TestReceiverSettleModeValueDefault(t *testing.T) {
	require.Equal(t, ModeFirst, receiverSettleModeValue(nil))
	mode := ModeSecond
	require.Equal(t, ModeSecond, receiverSettleModeValue(&mode))
}
