// Package registrar reports FCM device tokens to a registration server.
//
// A Registrar persists every token it is handed before any network attempt,
// POSTs it to the configured endpoint, and retries transient failures with
// exponential backoff. A newer token supersedes an older one: the older
// submission's retry loop is cancelled and only the newest token is sent.
//
// The fcm subpackage provides the inbound side (OnNewToken /
// OnMessageReceived) that push SDK callbacks are wired to.
//
// Usage:
//
//	reg := registrar.New("https://api.example.com/devices/token",
//		registrar.WithStore(registrar.NewFileStore(sessionDir)))
//	defer reg.Close()
//	ack, err := reg.Submit(ctx, token)
package registrar
