package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/config"
)

func TestNewSelectsDriver(t *testing.T) {
	logSender := New(&config.Config{MailDriver: config.MailDriverLog}, nil)
	assert.IsType(t, &LogSender{}, logSender)

	smtpSender := New(&config.Config{
		MailDriver: config.MailDriverSMTP,
		SMTPHost:   "smtp.example.com",
		SMTPPort:   587,
		MailFrom:   "billing@example.com",
	}, nil)
	require.IsType(t, &SMTPSender{}, smtpSender)
	assert.Equal(t, "smtp.example.com", smtpSender.(*SMTPSender).Host)
}

func TestComposeEncodesSubject(t *testing.T) {
	s := &SMTPSender{From: "billing@example.com"}
	raw := string(s.compose(Message{To: "p@example.com", Subject: "お支払いのお知らせ", Body: "line1\nline2"}))

	assert.Contains(t, raw, "To: p@example.com\r\n")
	assert.Contains(t, raw, "Subject: =?UTF-8?q?")
	assert.True(t, strings.HasSuffix(raw, "line1\r\nline2"))

	plain := string(s.compose(Message{To: "p@example.com", Subject: "Invoice"}))
	assert.Contains(t, plain, "Subject: Invoice\r\n")
}

func TestSendersRequireRecipient(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, (&SMTPSender{}).Send(ctx, Message{}), ErrNoRecipient)
	assert.ErrorIs(t, (&Recorder{}).Send(ctx, Message{}), ErrNoRecipient)
}

func TestRecorder(t *testing.T) {
	boom := errors.New("boom")
	r := &Recorder{Fail: func(msg Message) error {
		if msg.To == "bad@example.com" {
			return boom
		}
		return nil
	}}

	require.NoError(t, r.Send(context.Background(), Message{To: "ok@example.com"}))
	assert.ErrorIs(t, r.Send(context.Background(), Message{To: "bad@example.com"}), boom)
	assert.Len(t, r.Messages(), 1)
}
