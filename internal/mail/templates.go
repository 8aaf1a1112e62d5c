package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"
)

const (
	ThankYouSubject = "Thank You for Your Visit! 💅"
	FollowUpSubject = "How did your nails last? We'd love to know! 💖"
)

const thankYouHTML = `<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #d946a6;">Thank You for Your Visit!</h2>
    <p>Dear {{.CustomerName}},</p>
    <p>Thank you for choosing us for your nails today! We hope you love your new look. 💅</p>
    <p>If you have any questions or concerns, feel free to reach out anytime.</p>
    <p>We look forward to seeing you again soon!</p>
    <p>Best regards,<br><strong>{{.SalonName}}</strong></p>
  </div>
</body>
</html>`

const thankYouText = `Dear {{.CustomerName}},

Thank you for choosing us for your nails today! We hope you love your new look.

If you have any questions or concerns, feel free to reach out anytime.

We look forward to seeing you again soon!

Best regards,
{{.SalonName}}`

const followUpHTML = `<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #d946a6;">How did your nails last? 💖</h2>
    <p>Dear {{.CustomerName}},</p>
    <p>It's been a week since your last visit! We hope your nails are still looking fabulous.</p>
    <p>Could you let us know how long your manicure/pedicure lasted? Your feedback helps us improve our services.</p>
    <p style="text-align: center; margin: 30px 0;">
      <a href="{{.FeedbackLink}}" style="background-color: #d946a6; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px;">Share Your Feedback</a>
    </p>
    <p>Thank you for being a valued customer!</p>
    <p>Best regards,<br><strong>{{.SalonName}}</strong></p>
  </div>
</body>
</html>`

const followUpText = `Dear {{.CustomerName}},

It's been a week since your last visit! We hope your nails are still looking fabulous.

Could you let us know how long your manicure/pedicure lasted? Your feedback helps us improve our services.

Share your feedback: {{.FeedbackLink}}

Thank you for being a valued customer!

Best regards,
{{.SalonName}}`

var (
	thankYouHTMLTmpl = htmltemplate.Must(htmltemplate.New("thank_you_html").Parse(thankYouHTML))
	thankYouTextTmpl = texttemplate.Must(texttemplate.New("thank_you_text").Parse(thankYouText))
	followUpHTMLTmpl = htmltemplate.Must(htmltemplate.New("followup_html").Parse(followUpHTML))
	followUpTextTmpl = texttemplate.Must(texttemplate.New("followup_text").Parse(followUpText))
)

type templateData struct {
	CustomerName string
	SalonName    string
	FeedbackLink string
}

// ThankYou renders the thank-you email for one recipient.
func ThankYou(to, customerName, salonName string) (Message, error) {
	data := templateData{CustomerName: customerName, SalonName: salonName}
	return render(to, ThankYouSubject, data, thankYouHTMLTmpl, thankYouTextTmpl)
}

// FollowUp renders the follow-up email carrying the feedback link.
func FollowUp(to, customerName, salonName, feedbackLink string) (Message, error) {
	data := templateData{CustomerName: customerName, SalonName: salonName, FeedbackLink: feedbackLink}
	return render(to, FollowUpSubject, data, followUpHTMLTmpl, followUpTextTmpl)
}

func render(to, subject string, data templateData, html *htmltemplate.Template, text *texttemplate.Template) (Message, error) {
	var h, t bytes.Buffer
	if err := html.Execute(&h, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", html.Name(), err)
	}
	if err := text.Execute(&t, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", text.Name(), err)
	}
	return Message{To: to, Subject: subject, HTML: h.String(), Text: t.String()}, nil
}

// FeedbackLink appends token as the "token" query parameter of base, keeping
// any query values base already has.
func FeedbackLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feedback url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
