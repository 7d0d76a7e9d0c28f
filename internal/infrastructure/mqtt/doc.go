// Package mqtt connects identityd to an MQTT broker and publishes session
// lifecycle events, so other services can drop cached sessions as soon as
// a user logs out or has their sessions revoked.
//
// Topics (prefix from mqtt.topic_prefix, default "identity"):
//
//	identity/system/status        retained online/offline status, LWT on crash
//	identity/session/login        successful login
//	identity/session/refresh      access token refreshed
//	identity/session/logout       refresh token revoked by its holder
//	identity/session/revoked      all sessions of a user revoked, or user deleted
//
// Session payloads carry the user id, username and a timestamp. They never
// carry tokens.
//
// # Security Considerations
//
//   - Use TLS (cfg.Broker.TLS=true) outside local development
//   - Broker ACLs should restrict publishing under the prefix to identityd
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewEventPublisher(client, client.Topics(), logger)
//	defer pub.Close(ctx)
//	// pass pub to auth.WithEventSink
package mqtt
