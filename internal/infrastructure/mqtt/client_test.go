package mqtt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "identityd-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "identity",
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		got    func(Topics) string
		want   string
	}{
		{"system status", "identity", Topics.SystemStatus, "identity/system/status"},
		{"session login", "identity", func(tp Topics) string { return tp.SessionEvent(SessionLogin) }, "identity/session/login"},
		{"session revoked", "acme/auth", func(tp Topics) string { return tp.SessionEvent(SessionRevoked) }, "acme/auth/session/revoked"},
		{"wildcard", "identity", Topics.AllSessionEvents, "identity/session/+"},
		{"empty prefix uses default", "", Topics.SystemStatus, "identity/system/status"},
		{"slashes trimmed", "/edge/", func(tp Topics) string { return tp.SessionEvent(SessionLogout) }, "edge/session/logout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(Topics{Prefix: tt.prefix}); got != tt.want {
				t.Errorf("topic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "identityd", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "identityd-test" {
		t.Errorf("ClientID = %q, want identityd-test", opts.ClientID)
	}
	if opts.Username != "identityd" {
		t.Errorf("Username = %q, want identityd", opts.Username)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("CleanSession and AutoReconnect should be enabled")
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig should be nil without TLS")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig should require TLS 1.2")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, Topics{Prefix: "identity"}, cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "identity/system/status" {
		t.Errorf("WillTopic = %q, want identity/system/status", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("WillRetained = %v, WillQos = %d, want true/1", opts.WillRetained, opts.WillQos)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "identityd-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestStatusPayloads(t *testing.T) {
	var online, offline statusPayload
	if err := json.Unmarshal(buildOnlinePayload("c1"), &online); err != nil {
		t.Fatalf("online payload error = %v", err)
	}
	if err := json.Unmarshal(buildOfflinePayload("c1"), &offline); err != nil {
		t.Fatalf("offline payload error = %v", err)
	}

	if online.Status != "online" || online.Reason != "" {
		t.Errorf("online = %+v", online)
	}
	if offline.Status != "offline" || offline.Reason != "graceful_shutdown" {
		t.Errorf("offline = %+v", offline)
	}
	if online.Timestamp == "" {
		t.Error("Timestamp should be set")
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "identity/session/login", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "identity/session/login", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "identity/session/login", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_ZeroValue(t *testing.T) {
	c := &Client{}

	if c.IsConnected() {
		t.Error("IsConnected() should be false for an unconnected client")
	}
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
