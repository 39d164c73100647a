package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
)

func TestNewClientValidatesKeyAgainstEnvironment(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_live_abc", Secret: "whsec", Env: "test"}, nil)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_abc", Env: "test"}, nil)
	assert.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec", Env: "staging"}, nil)
	assert.ErrorIs(t, err, errInvalidStripeEnv)

	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec", Env: ""}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", client.Environment())
	assert.Equal(t, "whsec", client.SigningSecret())
}

func TestVerifyEventChecksSignature(t *testing.T) {
	client := &Client{environment: testEnv, signingSecret: "whsec_test"}
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"2019-01-01","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := client.VerifyEvent(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	_, err = client.VerifyEvent(payload, "t=1,v1=bogus")
	assert.Error(t, err)
}

func TestCheckKeyPrefixAcceptsRestrictedKeys(t *testing.T) {
	assert.NoError(t, checkKeyPrefix(testEnv, "rk_test_123"))
	assert.NoError(t, checkKeyPrefix(liveEnv, "sk_live_123"))

	err := checkKeyPrefix(liveEnv, "sk_test_123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sk_live_")

	assert.ErrorIs(t, checkKeyPrefix("staging", "sk_test_123"), errInvalidStripeEnv)
}

func TestLeveledLoggerToleratesMissingLogger(t *testing.T) {
	l := leveledLogger{ctx: context.Background()}
	assert.NotPanics(t, func() {
		l.Debugf("request %s", "req_1")
		l.Infof("request %s", "req_1")
		l.Warnf("retrying %d", 1)
		l.Errorf("failed %d", 2)
	})
}
