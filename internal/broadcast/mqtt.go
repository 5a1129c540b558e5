package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	// Retain keeps the last status on the broker for late subscribers.
	Retain bool
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes notifications as JSON to
// <prefix>/status, <prefix>/call, <prefix>/connection and <prefix>/finishing.
type MQTTPublisher struct {
	client mqttClient
	opts   MQTTOptions
	logger *slog.Logger
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions, logger *slog.Logger) (*MQTTPublisher, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}
	return newMQTTPublisher(client, opts, logger), nil
}

func newMQTTPublisher(client mqttClient, opts MQTTOptions, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "softline"
	}
	return &MQTTPublisher{client: client, opts: opts, logger: logger}
}

// Topic returns the topic notifications of kind k are published to.
func (p *MQTTPublisher) Topic(k Kind) string {
	return p.opts.TopicPrefix + "/" + k.topicSuffix()
}

func (p *MQTTPublisher) Publish(ctx context.Context, n Notification) error {
	token, err := p.send(n)
	if err != nil {
		return err
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) PublishAsync(n Notification) {
	if _, err := p.send(n); err != nil {
		p.logger.Warn("[Broadcast] MQTT publish failed", "kind", n.Kind, "error", err)
	}
}

func (p *MQTTPublisher) send(n Notification) (mqtt.Token, error) {
	payload, err := Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.Kind, err)
	}
	retain := p.opts.Retain && n.Kind == KindStatusChanged
	return p.client.Publish(p.Topic(n.Kind), p.opts.QoS, retain, payload), nil
}

func (p *MQTTPublisher) Flush(ctx context.Context) error {
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
