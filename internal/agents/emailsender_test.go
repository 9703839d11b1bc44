package agents

import (
	"bytes"
	"context"
	"io"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/common/config"
)

type fakeSMTPSession struct {
	authed  bool
	from    string
	rcpts   []string
	message bytes.Buffer
	quit    bool
	closed  bool
	rcptErr error
}

func (f *fakeSMTPSession) Auth(a smtp.Auth) error { f.authed = true; return nil }
func (f *fakeSMTPSession) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPSession) Rcpt(to string) error {
	if f.rcptErr != nil {
		return f.rcptErr
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSMTPSession) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.message}, nil
}
func (f *fakeSMTPSession) Quit() error  { f.quit = true; return nil }
func (f *fakeSMTPSession) Close() error { f.closed = true; return nil }

type nopWriteCloser struct{ w *bytes.Buffer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }

func newTestEmailSender(session *fakeSMTPSession) *EmailSender {
	sender := NewEmailSender(config.SMTPConfig{
		Host:     "mail.example.com",
		Port:     587,
		Username: "robot@example.com",
		Password: "secret",
	})
	sender.dial = func(addr string, ssl bool) (smtpSession, error) {
		return session, nil
	}
	return sender
}

func TestEmailSender_SendsMultipartMessage(t *testing.T) {
	session := &fakeSMTPSession{}
	sender := newTestEmailSender(session)

	result, err := sender.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"to":        []interface{}{"ada@example.com"},
			"cc":        []interface{}{"bob@example.com"},
			"bcc":       []interface{}{"cyd@example.com"},
			"subject":   "weekly report",
			"body":      "plain text",
			"html_body": "<p>rich text</p>",
			"attachments": []interface{}{
				map[string]interface{}{
					"filename": "report.txt",
					"content":  "numbers go here",
				},
			},
		},
	})
	require.NoError(t, err)

	output := result.Output.(map[string]interface{})
	assert.NotEmpty(t, output["message_id"])
	recipients := output["recipients"].([]string)
	assert.Equal(t, []string{"ada@example.com", "bob@example.com", "cyd@example.com"}, recipients)

	assert.True(t, session.authed)
	assert.True(t, session.quit)
	assert.True(t, session.closed)
	assert.Equal(t, "robot@example.com", session.from)
	assert.Len(t, session.rcpts, 3)

	msg := session.message.String()
	assert.Contains(t, msg, "Subject: weekly report")
	assert.Contains(t, msg, "To: ada@example.com")
	assert.Contains(t, msg, "Cc: bob@example.com")
	// Bcc recipients never appear in headers.
	assert.NotContains(t, msg, "cyd@example.com")
	assert.Contains(t, msg, "multipart/mixed")
	assert.Contains(t, msg, "plain text")
	assert.Contains(t, msg, "<p>rich text</p>")
	assert.Contains(t, msg, `filename="report.txt"`)
}

func TestEmailSender_PlainTextOnly(t *testing.T) {
	session := &fakeSMTPSession{}
	sender := newTestEmailSender(session)

	_, err := sender.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"to":      []interface{}{"ada@example.com"},
			"subject": "ping",
			"body":    "pong",
		},
	})
	require.NoError(t, err)

	msg := session.message.String()
	assert.Contains(t, msg, "text/plain")
	assert.NotContains(t, msg, "multipart/mixed")
}

func TestEmailSender_Validation(t *testing.T) {
	sender := newTestEmailSender(&fakeSMTPSession{})

	cases := []struct {
		name  string
		input map[string]interface{}
	}{
		{"no recipients", map[string]interface{}{"subject": "s", "body": "b"}},
		{"no subject", map[string]interface{}{"to": []interface{}{"a@b.c"}, "body": "b"}},
		{"no body", map[string]interface{}{"to": []interface{}{"a@b.c"}, "subject": "s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sender.Execute(context.Background(), Invocation{Input: tc.input})
			require.Error(t, err)
		})
	}
}

func TestEmailSender_SessionClosedOnRcptFailure(t *testing.T) {
	session := &fakeSMTPSession{rcptErr: assert.AnError}
	sender := newTestEmailSender(session)

	_, err := sender.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"to":      []interface{}{"ada@example.com"},
			"subject": "s",
			"body":    "b",
		},
	})
	require.Error(t, err)
	assert.True(t, session.closed)
}

func TestEmailSender_InlineAttachmentRequiresFilename(t *testing.T) {
	sender := newTestEmailSender(&fakeSMTPSession{})
	_, err := sender.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"to":          []interface{}{"ada@example.com"},
			"subject":     "s",
			"body":        "b",
			"attachments": []interface{}{map[string]interface{}{"content": "x"}},
		},
	})
	require.Error(t, err)
}
