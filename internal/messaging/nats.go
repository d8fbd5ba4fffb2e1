// Package messaging wraps the NATS connection used for cross-instance
// fanout. Session events travel on per-session subjects so two
// participants connected to different instances still share one
// conversation; per-user subjects carry lifecycle events that must reach
// a specific connection.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject roots. Session subjects append .<session_id>, notify subjects
// append .<user_id>.
const (
	SubjectSession    = "session"
	SubjectUserNotify = "match.notify"
)

// NATSConfig holds connection settings.
type NATSConfig struct {
	URL           string
	Name          string        // client name shown in server monitoring
	ReconnectWait time.Duration // delay between reconnect attempts
	MaxReconnects int           // -1 reconnects forever
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chatserver",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient is a NATS connection plus a registry of the subscriptions
// this instance holds, keyed so they can be dropped individually when a
// user leaves a session or disconnects.
type NATSClient struct {
	conn *nats.Conn

	mu     sync.Mutex
	active map[string]*nats.Subscription
}

// NewNATSClient dials NATS and fails if the initial connection cannot be
// established. Reconnects after that are handled by the nats client
// itself and only logged here.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	nc, err := nats.Connect(config.URL, connectOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn:   nc,
		active: make(map[string]*nats.Subscription),
	}, nil
}

func connectOptions(config NATSConfig) []nats.Option {
	return []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}
}

// Publish sends data to a raw subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe attaches handler to a raw subject, tracked under the subject
// name itself.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	return c.subscribe(subject, subject, handler)
}

// SubscribeSession attaches a user to the session.<sessionID> subject.
// The registry key is the user, not the subject: when both participants
// land on the same instance each needs its own subscription, and each
// must be removable without touching the other's.
func (c *NATSClient) SubscribeSession(sessionID, userID string, handler func(data []byte)) error {
	subject := SubjectSession + "." + sessionID
	return c.subscribe(subject, "sessionsub:"+userID, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeSession drops a user's session subscription.
func (c *NATSClient) UnsubscribeSession(userID string) error {
	return c.release("sessionsub:" + userID)
}

// PublishSessionEvent fans data out to everyone subscribed to the session.
func (c *NATSClient) PublishSessionEvent(sessionID string, data []byte) error {
	return c.Publish(SubjectSession+"."+sessionID, data)
}

// SubscribeUserNotify listens for lifecycle notifications aimed at one user.
func (c *NATSClient) SubscribeUserNotify(userID string, handler func(data []byte)) error {
	subject := SubjectUserNotify + "." + userID
	return c.subscribe(subject, subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeUserNotify drops a user's lifecycle subscription.
func (c *NATSClient) UnsubscribeUserNotify(userID string) error {
	return c.release(SubjectUserNotify + "." + userID)
}

// PublishUserNotify delivers a lifecycle notification to a user, on
// whichever instance they are connected to.
func (c *NATSClient) PublishUserNotify(userID string, data []byte) error {
	return c.Publish(SubjectUserNotify+"."+userID, data)
}

// Close drains every tracked subscription and then the connection, so
// in-flight messages are handled before shutdown.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.active {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.active = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

func (c *NATSClient) subscribe(subject, key string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.active[key]; ok {
		// A stale entry here means the caller never released the previous
		// subscription. Unsubscribe it so handlers do not double-fire.
		_ = old.Unsubscribe()
	}
	c.active[key] = sub
	c.mu.Unlock()
	return nil
}

func (c *NATSClient) release(key string) error {
	c.mu.Lock()
	sub, ok := c.active[key]
	delete(c.active, key)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no subscription for subject %s", key)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
