package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho's Disconnect takes it.
	defaultDisconnectQuiesce = 1000

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// statusPayload is the body of messages on the system status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// brokerURL is tcp://host:port, or ssl:// when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildClientOptions maps identityd's MQTT config onto paho options. The
// session is clean; paho handles reconnects with the configured backoff.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers the offline status the broker publishes if
// identityd disappears without a clean disconnect. QoS 1, retained.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.SystemStatus(), string(buildStatusPayload("offline", clientID, "unexpected_disconnect")), 1, true)
}

func buildOnlinePayload(clientID string) []byte {
	return buildStatusPayload("online", clientID, "")
}

func buildOfflinePayload(clientID string) []byte {
	return buildStatusPayload("offline", clientID, "graceful_shutdown")
}

func buildStatusPayload(status, clientID, reason string) []byte {
	b, _ := json.Marshal(statusPayload{ //nolint:errcheck // plain string fields always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
