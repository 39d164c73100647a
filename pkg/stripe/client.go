package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes accepted per environment.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// Client holds the process-wide Stripe credentials and the webhook signing secret.
type Client struct {
	environment   string
	signingSecret string
}

// NewClient validates the configured key against the environment, then installs
// it together with a retrying API backend for the stripe-go resource packages.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	signingSecret := strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, errAPIKeyRequired
	case signingSecret == "":
		return nil, errSecretRequired
	}
	if err := checkKeyPrefix(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey
	stripe.SetAppInfo(&stripe.AppInfo{Name: "mealrun-backend"})
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     leveledLogger{ctx: ctx, logg: logg},
	}))

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":          env,
			"max_network_retries": cfg.MaxNetworkRetries,
		}), "stripe client initialized")
	}

	return &Client{environment: env, signingSecret: signingSecret}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// VerifyEvent checks the Stripe-Signature header against the raw payload and
// decodes the event. API version drift between the account and the library is
// tolerated because only payment intent objects are read from the event.
func (c *Client) VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, signatureHeader, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		return testEnv, nil
	}
	if _, ok := keyPrefixes[env]; !ok {
		return "", errInvalidStripeEnv
	}
	return env, nil
}

func checkKeyPrefix(env, key string) error {
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return errInvalidStripeEnv
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a key starting with one of %s", env, strings.Join(prefixes, ", "))
}

// leveledLogger routes stripe-go's internal request logging into the service logger.
// Info and debug chatter is demoted to debug so retries stay visible without noise.
type leveledLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.debug(format, v...) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.debug(format, v...) }

func (l leveledLogger) Warnf(format string, v ...interface{}) {
	if l.logg == nil {
		return
	}
	l.logg.Warn(l.context(), fmt.Sprintf(format, v...))
}

func (l leveledLogger) Errorf(format string, v ...interface{}) {
	if l.logg == nil {
		return
	}
	l.logg.Error(l.context(), "stripe client error", fmt.Errorf(format, v...))
}

func (l leveledLogger) debug(format string, v ...interface{}) {
	if l.logg == nil {
		return
	}
	l.logg.Debug(l.context(), fmt.Sprintf(format, v...))
}

func (l leveledLogger) context() context.Context {
	return l.logg.WithField(l.ctx, "component", "stripe-go")
}
