// Package gatewaytest provides an in-memory Gateway for service tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/internal/gateway"
)

// Reversal records a ReverseTransfer call.
type Reversal struct {
	TransferID  string
	AmountCents int64
	ReversalID  string
}

// Fake is a thread-safe Gateway that records every call. Set the *Err fields to
// make the matching operation fail.
type Fake struct {
	mu sync.Mutex

	States    map[string]gateway.IntentState
	Holds     []gateway.HoldParams
	Captures  []string
	Cancels   []string
	Refunds   []string
	Transfers []gateway.TransferParams
	Reversals []Reversal
	Accounts  []uuid.UUID

	AuthorizeErr error
	CaptureErr   error
	CancelErr    error
	RefundErr    error
	StateErr     error
	TransferErr  error
	ReverseErr   error
	AccountErr   error

	seq int
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{States: map[string]gateway.IntentState{}}
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// SetState forces the provider-side state of an intent.
func (f *Fake) SetState(intentID string, state gateway.IntentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States[intentID] = state
}

func (f *Fake) AuthorizeHold(_ context.Context, params gateway.HoldParams) (*gateway.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuthorizeErr != nil {
		return nil, f.AuthorizeErr
	}
	f.Holds = append(f.Holds, params)
	id := f.next("pi")
	f.States[id] = gateway.IntentRequiresPaymentMethod
	return &gateway.Hold{IntentID: id, ClientSecret: id + "_secret", State: f.States[id]}, nil
}

func (f *Fake) Capture(_ context.Context, intentID string) (gateway.IntentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return "", f.CaptureErr
	}
	f.Captures = append(f.Captures, intentID)
	f.States[intentID] = gateway.IntentSucceeded
	return gateway.IntentSucceeded, nil
}

func (f *Fake) CancelHold(_ context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.Cancels = append(f.Cancels, intentID)
	f.States[intentID] = gateway.IntentCanceled
	return nil
}

func (f *Fake) Refund(_ context.Context, intentID string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return "", f.RefundErr
	}
	f.Refunds = append(f.Refunds, intentID)
	return f.next("re"), nil
}

func (f *Fake) GetIntentState(_ context.Context, intentID string) (gateway.IntentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StateErr != nil {
		return "", f.StateErr
	}
	state, ok := f.States[intentID]
	if !ok {
		return "", fmt.Errorf("no such intent %s", intentID)
	}
	return state, nil
}

func (f *Fake) CreatePayoutDestination(_ context.Context, userID uuid.UUID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return "", f.AccountErr
	}
	f.Accounts = append(f.Accounts, userID)
	return f.next("acct"), nil
}

func (f *Fake) CreateOnboardingLink(_ context.Context, destinationID, returnURL, _ string) (string, error) {
	return "https://connect.example.test/" + destinationID + "?return=" + returnURL, nil
}

func (f *Fake) Transfer(_ context.Context, params gateway.TransferParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return "", f.TransferErr
	}
	f.Transfers = append(f.Transfers, params)
	return f.next("tr"), nil
}

func (f *Fake) ReverseTransfer(_ context.Context, transferID string, amountCents int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReverseErr != nil {
		return "", f.ReverseErr
	}
	id := f.next("trr")
	f.Reversals = append(f.Reversals, Reversal{TransferID: transferID, AmountCents: amountCents, ReversalID: id})
	return id, nil
}

var _ gateway.Gateway = (*Fake)(nil)
