package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// Options configures the broker connection.
type Options struct {
	Broker         string
	Username       string
	Password       string
	Prefix         string
	ClientIDPrefix string
	ConnectRetries int           // attempts before giving up, default 5
	RetryInterval  time.Duration // default 5s
	QueueSize      int           // offline publishes kept for replay, default 64
}

func (o *Options) defaults() {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.ClientIDPrefix == "" {
		o.ClientIDPrefix = "sprinkler"
	}
	if o.ConnectRetries < 1 {
		o.ConnectRetries = 5
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.QueueSize < 1 {
		o.QueueSize = 64
	}
}

// conn is the subset of paho.Client the publisher needs.
type conn interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

const publishTimeout = 5 * time.Second

// Client publishes controller status and delivers decoded commands.
type Client struct {
	conn     conn
	topics   Topics
	log      zerolog.Logger
	breaker  *gobreaker.CircuitBreaker
	commands chan logic.Command

	mu    sync.Mutex
	queue *offlineQueue
}

func newClient(opts Options, log zerolog.Logger) *Client {
	c := &Client{
		topics:   Topics{Prefix: opts.Prefix},
		log:      log,
		commands: make(chan logic.Command, 32),
		queue:    newOfflineQueue(opts.QueueSize),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("publish breaker state change")
		},
	})
	return c
}

// Connect dials the broker, retrying a bounded number of times, and
// subscribes to the command topics. The returned client reconnects on its own
// after the first successful connection.
func Connect(ctx context.Context, opts Options, log zerolog.Logger) (*Client, error) {
	opts.defaults()
	c := newClient(opts, log.With().Str("component", "mqtt").Logger())

	clientID := fmt.Sprintf("%s-%s", opts.ClientIDPrefix, uuid.NewString()[:8])
	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetOnConnectHandler(func(pc paho.Client) {
			go c.resume(pc)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn().Err(err).Msg("connection lost")
		})

	client := paho.NewClient(po)
	c.conn = client

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryInterval), uint64(opts.ConnectRetries-1)),
		ctx,
	)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		token := client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			c.log.Warn().Int("attempt", attempt).Msg("connect timeout")
			return errors.New("connection timeout")
		}
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", opts.Broker, attempt, err)
	}

	c.log.Info().Str("broker", opts.Broker).Str("client_id", clientID).Msg("connected")
	return c, nil
}

// resume subscribes and replays queued publishes after every (re)connect.
func (c *Client) resume(pc paho.Client) {
	for _, filter := range c.topics.Subscriptions() {
		token := pc.Subscribe(filter, 1, c.onMessage)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			c.log.Error().Err(token.Error()).Str("filter", filter).Msg("subscribe failed")
		}
	}
	c.flush()
}

func (c *Client) flush() {
	c.mu.Lock()
	pending := c.queue.drain()
	c.mu.Unlock()

	if len(pending) > 0 {
		c.log.Info().Int("messages", len(pending)).Msg("replaying queued publishes")
	}
	for _, m := range pending {
		if err := c.send(m); err != nil {
			c.hold(m)
		}
	}
}

func (c *Client) onMessage(_ paho.Client, m paho.Message) {
	cmd, err := DecodeCommand(c.topics.Prefix, m.Topic(), m.Payload())
	if err != nil {
		c.log.Warn().Err(err).Str("topic", m.Topic()).Msg("rejected command")
		if perr := c.PublishLog(err.Error()); perr != nil {
			c.log.Debug().Err(perr).Msg("rejection not reported")
		}
		return
	}
	if cmd == nil {
		return
	}
	select {
	case c.commands <- cmd:
	default:
		c.log.Warn().Str("topic", m.Topic()).Msg("command queue full, dropping")
	}
}

// Commands delivers decoded inbound commands.
func (c *Client) Commands() <-chan logic.Command {
	return c.commands
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnectionOpen()
}

func (c *Client) PublishZoneState(z logic.Zone) error {
	return c.publish(bufferedMsg{topic: c.topics.ZoneState(z.ID), payload: []byte(onOff(z.Active)), latest: true})
}

func (c *Client) PublishModeState(mode logic.DeviceMode) error {
	return c.publish(bufferedMsg{topic: c.topics.ModeState(), payload: []byte(onOff(mode == logic.ModeInteractive)), latest: true})
}

func (c *Client) PublishEnabledState(enabled bool) error {
	return c.publish(bufferedMsg{topic: c.topics.EnabledState(), payload: []byte(onOff(enabled)), latest: true})
}

func (c *Client) PublishLog(msg string) error {
	return c.publish(bufferedMsg{topic: c.topics.Log(), payload: []byte(msg), retained: true})
}

// publish sends m, or queues it for replay when the broker is unreachable or
// the breaker is open.
func (c *Client) publish(m bufferedMsg) error {
	if !c.conn.IsConnectionOpen() {
		c.hold(m)
		return nil
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(m)
	})
	if err != nil {
		c.hold(m)
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (c *Client) send(m bufferedMsg) error {
	token := c.conn.Publish(m.topic, 1, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	return token.Error()
}

func (c *Client) hold(m bufferedMsg) {
	c.mu.Lock()
	dropped := c.queue.push(m)
	c.mu.Unlock()
	if dropped {
		c.log.Warn().Int("capacity", c.queue.capacity).Msg("offline queue full, dropped oldest message")
	}
}

// Queued returns how many publishes await replay.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.conn.Disconnect(1000) // 1 second quiesce
	return nil
}
