package payments

import (
	"github.com/angelmondragon/mealrun-backend/internal/gateway"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// ApplyGatewayState is the single transition function shared by the webhook, the
// sync call and the capture response. It returns the next local status and whether
// it differs from current. Any pair not listed is a no-op, which makes replays safe.
func ApplyGatewayState(current enums.PaymentStatus, reported gateway.IntentState) (enums.PaymentStatus, bool) {
	switch {
	case current == enums.PaymentStatusPending && reported == gateway.IntentRequiresCapture:
		return enums.PaymentStatusPreAuthorized, true
	case current == enums.PaymentStatusPreAuthorized && reported == gateway.IntentSucceeded:
		return enums.PaymentStatusHeld, true
	case current == enums.PaymentStatusPending && reported == gateway.IntentSucceeded:
		return enums.PaymentStatusHeld, true
	default:
		return current, false
	}
}
