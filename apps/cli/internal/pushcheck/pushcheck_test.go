package pushcheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registrar "github.com/turkkalori/fcm-registrar"
)

type fakeSender struct {
	sent []*messaging.Message
	id   string
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	f.sent = append(f.sent, msg)
	return f.id, f.err
}

func newTestChecker(sender Sender) *Checker {
	return New(sender, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestSend_Notification(t *testing.T) {
	sender := &fakeSender{id: "projects/demo/messages/1"}
	c := newTestChecker(sender)

	id, err := c.Send(context.Background(), "token-a", Push{
		Title: "Test",
		Body:  "Hello",
		Data:  map[string]string{"kind": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/messages/1", id)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "token-a", msg.Token)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, "Hello", msg.Notification.Body)
	assert.Equal(t, "test", msg.Data["kind"])
}

func TestSend_DataOnly(t *testing.T) {
	sender := &fakeSender{id: "m"}
	_, err := newTestChecker(sender).Send(context.Background(), "token-a", Push{Data: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Nil(t, sender.sent[0].Notification)
}

func TestSend_EmptyToken(t *testing.T) {
	sender := &fakeSender{}
	_, err := newTestChecker(sender).Send(context.Background(), "", Push{Body: "x"})
	assert.ErrorIs(t, err, registrar.ErrInvalidToken)
	assert.Empty(t, sender.sent)
}

func TestSend_Error(t *testing.T) {
	sender := &fakeSender{err: errors.New("quota exceeded")}
	_, err := newTestChecker(sender).Send(context.Background(), "token-a", Push{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sending test push")
	assert.Contains(t, err.Error(), "quota exceeded")
}
