package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// SMTPConfig holds relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     Sender
	Timeout  time.Duration
}

// SMTPGateway sends through an SMTP relay using STARTTLS and PLAIN auth
type SMTPGateway struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

func NewSMTPGateway(cfg SMTPConfig, logger *zap.Logger) *SMTPGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPGateway{cfg: cfg, logger: logger}
}

func (g *SMTPGateway) Send(ctx context.Context, msg Message) error {
	body, err := buildMessage(g.cfg.From, msg, time.Now())
	if err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}

	addr := net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port))
	dialer := &net.Dialer{Timeout: g.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(g.cfg.Timeout))
	}

	c, err := smtp.NewClient(conn, g.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp error: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: g.cfg.Host}); err != nil {
			return fmt.Errorf("smtp error: starttls: %w", err)
		}
	}

	if g.cfg.Username != "" {
		auth := smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp %w: %v", ErrAuth, err)
		}
	}

	if err := c.Mail(g.cfg.From.Email); err != nil {
		return classifySMTP(err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return classifySMTP(err)
	}

	w, err := c.Data()
	if err != nil {
		return classifySMTP(err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(err)
	}

	if err := c.Quit(); err != nil {
		g.logger.Debug("smtp quit failed", zap.Error(err))
	}

	g.logger.Info("email sent via SMTP",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// classifySMTP maps 530/534/535 replies to ErrAuth.
func classifySMTP(err error) error {
	if tpErr, ok := err.(*textproto.Error); ok {
		switch tpErr.Code {
		case 530, 534, 535:
			return fmt.Errorf("smtp %w: %v", ErrAuth, err)
		}
	}
	return fmt.Errorf("smtp error: %w", err)
}

// buildMessage renders RFC 5322 headers and a multipart/alternative body.
// The text part is omitted when msg.Text is empty.
func buildMessage(from Sender, msg Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	fromAddr := netmail.Address{Name: from.Name, Address: from.Email}
	toAddr := netmail.Address{Address: msg.To}

	mw := multipart.NewWriter(&buf)

	headers := [][2]string{
		{"From", fromAddr.String()},
		{"To", toAddr.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", now.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}

	var head bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&head, "%s: %s\r\n", h[0], h[1])
	}
	head.WriteString("\r\n")

	if msg.Text != "" {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/plain; charset=UTF-8"},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(msg.Text)); err != nil {
			return nil, err
		}
	}

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(msg.HTML)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return append(head.Bytes(), buf.Bytes()...), nil
}
