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

	"github.com/angelmondragon/loyalty-ledger/pkg/config"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client wraps the Pub/Sub v2 client with the ledger's topic and
// subscription names. It never creates resources; they are provisioned
// outside the service and Ping fails when one is missing.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// resource is a topic or subscription the service depends on.
type resource struct {
	kind string
	name string
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: raw, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project":   projectID,
			"resources": len(c.required()),
		}), "pubsub client initialized")
	}
	return c, nil
}

// required lists the configured resources. Blank names are skipped so the
// outbox-publisher can run without the orders subscription.
func (c *Client) required() []resource {
	var out []resource
	for _, r := range []resource{
		{kind: kindTopic, name: c.cfg.LoyaltyTopic},
		{kind: kindSubscription, name: c.cfg.OrdersSubscription},
	} {
		if r.name = strings.TrimSpace(r.name); r.name != "" {
			out = append(out, r)
		}
	}
	return out
}

// Ping checks every configured topic and subscription exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, r := range c.required() {
		if err := c.exists(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) exists(ctx context.Context, r resource) error {
	full := qualify(c.projectID, r.kind, r.name)
	var err error
	switch r.kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	default:
		return fmt.Errorf("unknown pubsub resource kind %q", r.kind)
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", strings.TrimSuffix(r.kind, "s"), r.name)
	default:
		return fmt.Errorf("checking %s %q: %w", strings.TrimSuffix(r.kind, "s"), r.name, err)
	}
}

// Subscription returns a subscriber for an id or full resource name, or nil
// when the client is not usable.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := qualify(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// OrdersSubscription returns the paid-order subscriber with flow control
// from config applied.
func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	sub := c.Subscription(c.cfg.OrdersSubscription)
	if sub == nil {
		return nil
	}
	applyReceiveSettings(&sub.ReceiveSettings, c.cfg)
	return sub
}

func applyReceiveSettings(rs *pubsub.ReceiveSettings, cfg config.PubSubConfig) {
	if cfg.MaxOutstandingMessages > 0 {
		rs.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.ReceiveGoroutines > 0 {
		rs.NumGoroutines = cfg.ReceiveGoroutines
	}
	if cfg.MaxAckExtension > 0 {
		rs.MaxExtension = cfg.MaxAckExtension
	}
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := qualify(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// qualify expands a short id to projects/<project>/<kind>/<id>. Names that
// are already qualified for kind pass through unchanged.
func qualify(projectID, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case strings.TrimSpace(projectID) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(projectID) + "/" + kind + "/" + name
}
