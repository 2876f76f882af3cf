// Package pushcheck sends a test push to a registered token through the
// Firebase Admin SDK, closing the loop on a registration.
package pushcheck

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	registrar "github.com/turkkalori/fcm-registrar"
)

// Sender is the part of *messaging.Client the checker uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Push is a test notification.
type Push struct {
	Title string
	Body  string
	Data  map[string]string
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets a custom logger for Checker.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// Checker sends test pushes.
type Checker struct {
	sender Sender
	logger *slog.Logger
}

// New returns a Checker sending through sender.
func New(sender Sender, opts ...Option) *Checker {
	c := &Checker{sender: sender}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// NewMessagingClient initializes a Firebase app and returns its messaging
// client. An empty credentialsFile falls back to application default
// credentials; an empty projectID is read from the credentials.
func NewMessagingClient(ctx context.Context, credentialsFile, projectID string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}
	return client, nil
}

// Send delivers p to token and returns the FCM message name.
func (c *Checker) Send(ctx context.Context, token string, p Push) (string, error) {
	if token == "" {
		return "", registrar.ErrInvalidToken
	}

	msg := &messaging.Message{
		Token: token,
		Data:  p.Data,
	}
	if p.Title != "" || p.Body != "" {
		msg.Notification = &messaging.Notification{Title: p.Title, Body: p.Body}
	}

	id, err := c.sender.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return "", fmt.Errorf("token %s... is no longer registered with FCM: %w", registrar.TokenPrefix(token), err)
		}
		return "", fmt.Errorf("sending test push: %w", err)
	}
	c.logger.Info("Test push sent", "token_prefix", registrar.TokenPrefix(token), "message", id)
	return id, nil
}
