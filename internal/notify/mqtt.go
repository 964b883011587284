package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// MQTTSettings holds configuration for an MQTT channel.
type MQTTSettings struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      int    `json:"qos,omitempty"`
	Retain   bool   `json:"retain,omitempty"`
}

// MQTT publishes alerts as JSON messages to an MQTT topic.
type MQTT struct {
	broker   string
	topic    string
	clientID string
	username string
	password string
	qos      byte
	retain   bool
}

// NewMQTT creates an MQTT notifier.
func NewMQTT(s MQTTSettings) *MQTT {
	qos := byte(s.QoS)
	if qos > 2 {
		qos = 0
	}
	clientID := s.ClientID
	if clientID == "" {
		clientID = "infra-mapper"
	}
	return &MQTT{
		broker:   s.Broker,
		topic:    s.Topic,
		clientID: clientID,
		username: s.Username,
		password: s.Password,
		qos:      qos,
		retain:   s.Retain,
	}
}

// Name returns the provider name for logging.
func (m *MQTT) Name() string { return "mqtt" }

// Send publishes the alert as a JSON payload to the configured topic.
func (m *MQTT) Send(ctx context.Context, alert *store.Alert) error {
	opts := mqtt.NewClientOptions().
		SetClientID(m.clientID).
		AddBroker(m.broker).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(10 * time.Second)
	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if tok.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	defer client.Disconnect(250)

	body, err := json.Marshal(newWebhookPayload(alert, true))
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	pub := client.Publish(m.topic, m.qos, m.retain, body)
	if !pub.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish timeout")
	}
	if pub.Error() != nil {
		return fmt.Errorf("mqtt publish: %w", pub.Error())
	}
	return nil
}
