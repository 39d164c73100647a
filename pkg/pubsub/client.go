package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/gcp"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const (
	topicsCollection        = "topics"
	subscriptionsCollection = "subscriptions"
)

var (
	errNoTopics       = errors.New("pubsub topic name is required")
	errNotInitialized = errors.New("pubsub client not initialized")
)

// Client wraps the v2 client with the project's topic names. Topics are
// provisioned out of band and only verified here.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string
}

// NewClient connects and fails fast when a configured topic is missing.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID, err := gcp.ProjectID(gcpCfg)
	if err != nil {
		return nil, err
	}
	topics := topicNames(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, topics: topics}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", strings.Join(topics, ",")), "pubsub client initialized")
	}
	return c, nil
}

// topicNames returns the configured topics, trimmed and without duplicates.
func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	seen := make(map[string]bool)
	for _, raw := range []string{cfg.LifecycleTopic, cfg.PayoutsTopic} {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Ping verifies every configured topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, name := range c.topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: gcp.ResourceName(c.projectID, topicsCollection, name),
		})
		if err := describeLookup("topic", name, err); err != nil {
			return err
		}
	}
	return nil
}

// VerifySubscription fails when the named subscription does not exist.
func (c *Client) VerifySubscription(ctx context.Context, name string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	full := gcp.ResourceName(c.projectID, subscriptionsCollection, name)
	if full == "" {
		return fmt.Errorf("subscription %q not configured", name)
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	return describeLookup("subscription", name, err)
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := gcp.ResourceName(c.projectID, topicsCollection, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// Subscriber returns a subscriber for a subscription id or full resource name.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := gcp.ResourceName(c.projectID, subscriptionsCollection, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}
