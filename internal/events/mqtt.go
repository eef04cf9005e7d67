package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sincroniza-dispositivos/internal/logging"
)

// MQTTSource receives events published on a broker topic. A lost
// connection ends the stream; automatic reconnect is off.
type MQTTSource struct {
	broker   string
	topic    string
	clientID string
	logger   *slog.Logger

	// newClient is replaced in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTSource(broker, topic, clientID string, logger *slog.Logger) *MQTTSource {
	return &MQTTSource{
		broker:    broker,
		topic:     topic,
		clientID:  clientID,
		logger:    logging.OrDiscard(logger),
		newClient: mqtt.NewClient,
	}
}

func (s *MQTTSource) Stream(ctx context.Context, handle Handler) error {
	// paho calls handlers from its own goroutines; funnel everything
	// through one channel so handle is never called concurrently.
	payloads := make(chan []byte, 64)
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.broker)
	opts.SetClientID(s.clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("connection lost", "error", err)
		select {
		case lost <- err:
		default:
		}
	})

	client := s.newClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)

	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case payloads <- msg.Payload():
		case <-ctx.Done():
		}
	}
	if token := client.Subscribe(s.topic, 1, onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, token.Error())
	}
	s.logger.Info("event stream opened", "transport", "mqtt", "topic", s.topic)

	for {
		select {
		case <-ctx.Done():
			if token := client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
				s.logger.Warn("failed to unsubscribe", "topic", s.topic, "error", token.Error())
			}
			return ctx.Err()
		case err := <-lost:
			if err == nil {
				return ErrStreamClosed
			}
			return fmt.Errorf("%w: %w", ErrStreamClosed, err)
		case p := <-payloads:
			handle(p)
		}
	}
}
