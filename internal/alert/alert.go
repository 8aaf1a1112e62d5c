// Package alert notifies operators about failed or finished workflow runs.
// Alerts are best effort: delivery problems are logged and never returned.
package alert

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/mail"
	"github.com/lalithlochan/aftercare/internal/sns"
)

type Severity = sns.Severity

const (
	Info     = sns.SeverityInfo
	Warning  = sns.SeverityWarning
	Error    = sns.SeverityError
	Critical = sns.SeverityCritical
)

const timestampLayout = "2006-01-02 15:04:05"

// TopicPublisher is the optional fan-out channel.
type TopicPublisher interface {
	Publish(ctx context.Context, alert sns.Alert) (string, error)
}

type Config struct {
	// To is the operator mailbox. Empty disables email alerts.
	To      string
	Enabled bool
}

// Summary is the outcome of one workflow run
type Summary struct {
	ScriptName string
	Sent       int
	Skipped    int
	Failed     int
	Duration   time.Duration
	Errors     []string
}

// Status is SUCCESS when nothing failed.
func (s Summary) Status() string {
	if s.Failed == 0 {
		return "SUCCESS"
	}
	return "COMPLETED WITH ERRORS"
}

type Notifier struct {
	gateway mail.Gateway
	topic   TopicPublisher
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// New builds a Notifier. topic may be nil.
func New(gateway mail.Gateway, topic TopicPublisher, cfg Config, logger *zap.Logger) *Notifier {
	return &Notifier{
		gateway: gateway,
		topic:   topic,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Notify sends "[SEVERITY] subject" with body preformatted in the message.
func (n *Notifier) Notify(ctx context.Context, severity Severity, subject, body string) {
	if !n.config.Enabled {
		return
	}
	ts := n.now().Format(timestampLayout)

	var buf bytes.Buffer
	err := alertTmpl.Execute(&buf, struct {
		Severity  Severity
		Subject   string
		Body      string
		Timestamp string
	}{severity, subject, body, ts})
	if err != nil {
		n.logger.Error("failed to render alert", zap.Error(err))
		return
	}

	n.deliver(ctx, severity, fmt.Sprintf("[%s] %s", severity, subject), buf.String(), body, "")
}

// NotifySummary sends the execution summary of a run.
func (n *Notifier) NotifySummary(ctx context.Context, s Summary) {
	if !n.config.Enabled {
		return
	}
	ts := n.now().Format(timestampLayout)

	color := template.CSS("#28a745")
	if s.Failed > 0 {
		color = template.CSS("#ffc107")
	}

	var buf bytes.Buffer
	err := summaryTmpl.Execute(&buf, struct {
		Summary
		Color     template.CSS
		Seconds   string
		Timestamp string
	}{s, color, fmt.Sprintf("%.2f", s.Duration.Seconds()), ts})
	if err != nil {
		n.logger.Error("failed to render execution summary", zap.Error(err))
		return
	}

	plain := fmt.Sprintf("%s: %s, sent=%d skipped=%d failed=%d in %.2fs",
		s.ScriptName, s.Status(), s.Sent, s.Skipped, s.Failed, s.Duration.Seconds())
	for _, e := range s.Errors {
		plain += "\n- " + e
	}

	n.deliver(ctx, sns.SeveritySummary, fmt.Sprintf("[SUMMARY] %s - %s", s.ScriptName, ts), buf.String(), plain, s.ScriptName)
}

func (n *Notifier) deliver(ctx context.Context, severity Severity, subject, html, plain, source string) {
	if n.config.To == "" {
		n.logger.Warn("alert email not configured", zap.String("subject", subject))
	} else {
		err := n.gateway.Send(ctx, mail.Message{To: n.config.To, Subject: subject, HTML: html})
		if err != nil {
			n.logger.Error("failed to send alert", zap.String("subject", subject), zap.Error(err))
		} else {
			n.logger.Info("alert sent", zap.String("to", n.config.To), zap.String("subject", subject))
		}
	}

	if n.topic == nil {
		return
	}
	if source == "" {
		source = "aftercare"
	}
	_, err := n.topic.Publish(ctx, sns.Alert{
		Severity:  severity,
		Subject:   subject,
		Body:      plain,
		Source:    source,
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to publish alert", zap.String("subject", subject), zap.Error(err))
	}
}

var alertTmpl = template.Must(template.New("alert").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 2px solid #ff6b6b; border-radius: 5px;">
        <h2 style="color: #ff6b6b;">⚠️ {{.Severity}} Alert</h2>
        <p><strong>Subject:</strong> {{.Subject}}</p>
        <p><strong>Time:</strong> {{.Timestamp}}</p>
        <hr>
        <pre style="background-color: #f5f5f5; padding: 10px; border-radius: 3px; overflow-x: auto;">{{.Body}}</pre>
        <hr>
        <p style="color: #666; font-size: 12px;">This is an automated alert from the salon email automation.</p>
    </div>
</body>
</html>
`))

var summaryTmpl = template.Must(template.New("summary").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 2px solid {{.Color}}; border-radius: 5px;">
        <h2 style="color: {{.Color}};">📊 Execution Summary</h2>
        <p><strong>Script:</strong> {{.ScriptName}}</p>
        <p><strong>Status:</strong> {{.Status}}</p>
        <p><strong>Execution Time:</strong> {{.Seconds}} seconds</p>
        <hr>
        <table style="width: 100%; border-collapse: collapse;">
            <tr><td style="padding: 10px; border: 1px solid #ddd;"><strong>Emails Sent</strong></td>
                <td style="padding: 10px; border: 1px solid #ddd; text-align: center; color: #28a745;">{{.Sent}}</td></tr>
            <tr><td style="padding: 10px; border: 1px solid #ddd;"><strong>Emails Skipped</strong></td>
                <td style="padding: 10px; border: 1px solid #ddd; text-align: center; color: #17a2b8;">{{.Skipped}}</td></tr>
            <tr><td style="padding: 10px; border: 1px solid #ddd;"><strong>Emails Failed</strong></td>
                <td style="padding: 10px; border: 1px solid #ddd; text-align: center; color: #dc3545;">{{.Failed}}</td></tr>
        </table>
        {{- if .Errors}}
        <hr>
        <h3 style="color: #ff6b6b;">Errors:</h3>
        <ul>{{range .Errors}}<li>{{.}}</li>{{end}}</ul>
        {{- end}}
        <hr>
        <p style="color: #666; font-size: 12px;">Generated at {{.Timestamp}}</p>
    </div>
</body>
</html>
`))
