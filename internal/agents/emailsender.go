package agents

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/common/config"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

// EmailSender delivers mail over SMTP. Server settings come from the
// node config, falling back to the process-wide defaults.
type EmailSender struct {
	defaults config.SMTPConfig
	// dial is swapped in tests to capture the built message.
	dial func(addr string, ssl bool) (smtpSession, error)
}

// smtpSession is the subset of smtp.Client the sender uses.
type smtpSession interface {
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

func NewEmailSender(defaults config.SMTPConfig) *EmailSender {
	return &EmailSender{defaults: defaults, dial: dialSMTP}
}

func (a *EmailSender) Kind() string { return "email_sender" }

type attachment struct {
	filename string
	mimeType string
	content  []byte
}

func (a *EmailSender) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()

	to := stringSliceParam(inv.Input, "to")
	cc := stringSliceParam(inv.Input, "cc")
	bcc := stringSliceParam(inv.Input, "bcc")
	subject := stringParam(inv.Input, "subject", "")
	body := stringParam(inv.Input, "body", "")
	htmlBody := stringParam(inv.Input, "html_body", "")

	if len(to) == 0 {
		return nil, apperrors.ValidationError("at least one recipient is required")
	}
	if subject == "" {
		return nil, apperrors.ValidationError("subject is required")
	}
	if body == "" && htmlBody == "" {
		return nil, apperrors.ValidationError("body or html_body is required")
	}

	host := stringParam(inv.Config, "smtp_host", a.defaults.Host)
	port := intParam(inv.Config, "smtp_port", a.defaults.Port)
	username := stringParam(inv.Config, "username", a.defaults.Username)
	password := stringParam(inv.Config, "password", a.defaults.Password)
	useSSL := boolParam(inv.Config, "use_ssl", false)
	from := stringParam(inv.Input, "from", username)
	if host == "" {
		return nil, apperrors.ValidationError("smtp_host is not configured")
	}

	attachments, err := loadAttachments(sliceParam(inv.Input, "attachments"))
	if err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
	recipients := append(append(append([]string{}, to...), cc...), bcc...)
	msg := buildMessage(messageID, from, to, cc, subject, body, htmlBody, attachments)

	if err := ctx.Err(); err != nil {
		return nil, abortErr(ctx, "email send")
	}

	session, err := a.dial(net.JoinHostPort(host, fmt.Sprintf("%d", port)), useSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	// The session closes on every exit path.
	defer func() { _ = session.Close() }()

	if username != "" {
		if err := session.Auth(smtp.PlainAuth("", username, password, host)); err != nil {
			return nil, fmt.Errorf("smtp authentication failed: %w", err)
		}
	}
	if err := session.Mail(from); err != nil {
		return nil, fmt.Errorf("smtp MAIL failed: %w", err)
	}
	for _, rcpt := range recipients {
		if err := session.Rcpt(rcpt); err != nil {
			return nil, fmt.Errorf("smtp RCPT failed for %s: %w", rcpt, err)
		}
	}
	w, err := session.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	_ = session.Quit()

	return &Result{
		Output: map[string]interface{}{
			"message_id": messageID,
			"recipients": recipients,
		},
		Metadata: Metadata{StartedAt: started, CompletedAt: time.Now().UTC()},
	}, nil
}

func dialSMTP(addr string, ssl bool) (smtpSession, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	if ssl {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
		if err != nil {
			return nil, err
		}
		c, err := smtp.NewClient(conn, host)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &smtpClientSession{c: c}, nil
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return &smtpClientSession{c: c}, nil
}

type smtpClientSession struct {
	c *smtp.Client
}

func (s *smtpClientSession) Auth(a smtp.Auth) error        { return s.c.Auth(a) }
func (s *smtpClientSession) Mail(from string) error        { return s.c.Mail(from) }
func (s *smtpClientSession) Rcpt(to string) error          { return s.c.Rcpt(to) }
func (s *smtpClientSession) Quit() error                   { return s.c.Quit() }
func (s *smtpClientSession) Close() error                  { return s.c.Close() }
func (s *smtpClientSession) Data() (io.WriteCloser, error) { return s.c.Data() }

func loadAttachments(specs []interface{}) ([]attachment, error) {
	var out []attachment
	for _, raw := range specs {
		spec, ok := raw.(map[string]interface{})
		if !ok {
			return nil, apperrors.ValidationError("attachment must be an object")
		}
		if path := stringParam(spec, "file_path", ""); path != "" {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
			}
			name := filepath.Base(path)
			mt := mime.TypeByExtension(filepath.Ext(path))
			if mt == "" {
				mt = "application/octet-stream"
			}
			out = append(out, attachment{filename: name, mimeType: mt, content: content})
			continue
		}
		content := stringParam(spec, "content", "")
		filename := stringParam(spec, "filename", "")
		if content == "" || filename == "" {
			return nil, apperrors.ValidationError("inline attachment requires content and filename")
		}
		mt := stringParam(spec, "mime_type", "application/octet-stream")
		out = append(out, attachment{filename: filename, mimeType: mt, content: []byte(content)})
	}
	return out, nil
}

// buildMessage assembles an RFC 5322 message, multipart when needed.
func buildMessage(messageID, from string, to, cc []string, subject, body, htmlBody string, attachments []attachment) []byte {
	var sb strings.Builder
	boundary := "agentflow-" + uuid.NewString()

	writeHeader := func(k, v string) { sb.WriteString(k + ": " + v + "\r\n") }
	writeHeader("Message-ID", messageID)
	writeHeader("Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader("From", from)
	writeHeader("To", strings.Join(to, ", "))
	if len(cc) > 0 {
		writeHeader("Cc", strings.Join(cc, ", "))
	}
	writeHeader("Subject", subject)
	writeHeader("MIME-Version", "1.0")

	multipart := len(attachments) > 0 || (body != "" && htmlBody != "")
	if !multipart {
		if htmlBody != "" {
			writeHeader("Content-Type", `text/html; charset="utf-8"`)
			sb.WriteString("\r\n" + htmlBody + "\r\n")
		} else {
			writeHeader("Content-Type", `text/plain; charset="utf-8"`)
			sb.WriteString("\r\n" + body + "\r\n")
		}
		return []byte(sb.String())
	}

	writeHeader("Content-Type", `multipart/mixed; boundary="`+boundary+`"`)
	sb.WriteString("\r\n")

	writePart := func(contentType, encoding, content string) {
		sb.WriteString("--" + boundary + "\r\n")
		sb.WriteString("Content-Type: " + contentType + "\r\n")
		if encoding != "" {
			sb.WriteString("Content-Transfer-Encoding: " + encoding + "\r\n")
		}
		sb.WriteString("\r\n" + content + "\r\n")
	}

	if body != "" {
		writePart(`text/plain; charset="utf-8"`, "", body)
	}
	if htmlBody != "" {
		writePart(`text/html; charset="utf-8"`, "", htmlBody)
	}
	for _, att := range attachments {
		sb.WriteString("--" + boundary + "\r\n")
		sb.WriteString("Content-Type: " + att.mimeType + "\r\n")
		sb.WriteString("Content-Transfer-Encoding: base64\r\n")
		sb.WriteString(`Content-Disposition: attachment; filename="` + att.filename + `"` + "\r\n\r\n")
		sb.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(att.content)) + "\r\n")
	}
	sb.WriteString("--" + boundary + "--\r\n")
	return []byte(sb.String())
}

func wrapBase64(s string) string {
	const width = 76
	var sb strings.Builder
	for len(s) > width {
		sb.WriteString(s[:width] + "\r\n")
		s = s[width:]
	}
	sb.WriteString(s)
	return sb.String()
}
