package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentStatus(t *testing.T) {
	status, err := ParsePaymentStatus("PRE_AUTHORIZED")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusPreAuthorized, status)

	_, err = ParsePaymentStatus("pre_authorized")
	assert.Error(t, err)
}

func TestPaymentStatusTerminal(t *testing.T) {
	assert.True(t, PaymentStatusRefunded.IsTerminal())
	assert.True(t, PaymentStatusCancelled.IsTerminal())
	assert.False(t, PaymentStatusReleased.IsTerminal())
	assert.False(t, PaymentStatusHeld.IsTerminal())
}

func TestLifecycleStatusesValidate(t *testing.T) {
	assert.True(t, MealRequestStatusAwaitingPayment.IsValid())
	assert.False(t, MealRequestStatus("CLAIMED").IsValid())
	assert.True(t, FulfillmentStatusClaimed.IsValid())
	assert.False(t, FulfillmentStatus("PENDING").IsValid())

	status, err := ParseDisputeStatus("DENIED")
	require.NoError(t, err)
	assert.Equal(t, DisputeStatusDenied, status)

	_, err = ParseOutboxEventType("order_created")
	assert.Error(t, err)
	evt, err := ParseOutboxEventType("dispute.resolved")
	require.NoError(t, err)
	assert.Equal(t, EventDisputeResolved, evt)
}
