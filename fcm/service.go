package fcm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	registrar "github.com/turkkalori/fcm-registrar"
)

// DefaultTag is the log tag attached to every service log line.
const DefaultTag = "FCMService"

// maxEventSize bounds one JSON event line read by Serve.
const maxEventSize = 1 << 20

// Submitter accepts refreshed tokens. *registrar.Registrar implements it.
type Submitter interface {
	SubmitAsync(token string) <-chan registrar.Result
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger for Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTag overrides the log tag.
func WithTag(tag string) Option {
	return func(s *Service) {
		s.tag = tag
	}
}

// Service handles inbound push callbacks.
type Service struct {
	submitter Submitter
	logger    *slog.Logger
	tag       string

	onMessage    func(RemoteMessage)
	onRegistered func(registrar.Result)
	onError      func(error)

	wg sync.WaitGroup
}

// NewService creates a Service forwarding new tokens to submitter.
func NewService(submitter Submitter, opts ...Option) *Service {
	s := &Service{
		submitter: submitter,
		tag:       DefaultTag,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("tag", s.tag)
	return s
}

// OnMessage sets the callback invoked after a message has been logged.
func (s *Service) OnMessage(fn func(RemoteMessage)) { s.onMessage = fn }

// OnRegistered sets the callback invoked with each submission's outcome.
func (s *Service) OnRegistered(fn func(registrar.Result)) { s.onRegistered = fn }

// OnError sets the callback invoked for events Serve could not parse.
func (s *Service) OnError(fn func(error)) { s.onError = fn }

// OnNewToken logs the refreshed token and submits it without blocking.
func (s *Service) OnNewToken(token string) {
	s.logger.Debug("Refreshed token", "token_prefix", registrar.TokenPrefix(token))

	results := s.submitter.SubmitAsync(token)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := <-results
		if res.Err != nil {
			s.logger.Warn("Token registration failed", "token_prefix", registrar.TokenPrefix(token), "error", res.Err)
		} else {
			s.logger.Info("Token registered",
				"token_prefix", registrar.TokenPrefix(token),
				"attempts", res.Ack.Attempts,
			)
		}
		if s.onRegistered != nil {
			s.onRegistered(res)
		}
	}()
}

// OnMessageReceived logs the sender, the notification body and the data
// payload of msg.
func (s *Service) OnMessageReceived(msg RemoteMessage) {
	s.logger.Debug("Message received", "from", msg.From, "message_id", msg.MessageID)
	if msg.Notification != nil {
		s.logger.Debug("Message notification body", "body", msg.Notification.Body)
	}
	if len(msg.Data) > 0 {
		s.logger.Debug("Message data payload", "data", msg.Data)
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

// Dispatch routes one parsed event to its callback.
func (s *Service) Dispatch(ev Event) error {
	switch e := ev.(type) {
	case NewToken:
		s.OnNewToken(e.Token)
	case RemoteMessage:
		s.OnMessageReceived(e)
	default:
		return fmt.Errorf("unsupported push event %T", ev)
	}
	return nil
}

// Serve reads JSON event lines from r and dispatches them until r is
// exhausted or ctx is cancelled. Malformed lines are logged and skipped.
// Serve waits for pending token submissions before returning.
func (s *Service) Serve(ctx context.Context, r io.Reader) error {
	defer s.wg.Wait()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- bytes.Clone(line):
			case <-ctx.Done():
				scanErr <- ctx.Err()
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					return fmt.Errorf("reading push events: %w", err)
				}
				return nil
			}
			ev, err := ParseEvent(line)
			if err != nil {
				s.logger.Warn("Failed to parse push event", "error", err, "raw", string(line))
				if s.onError != nil {
					s.onError(err)
				}
				continue
			}
			if err := s.Dispatch(ev); err != nil {
				s.logger.Warn("Failed to dispatch push event", "error", err)
			}
		}
	}
}

// Wait blocks until every submission started by OnNewToken has reported.
func (s *Service) Wait() {
	s.wg.Wait()
}
