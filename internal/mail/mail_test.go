package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestThankYouTemplate(t *testing.T) {
	msg, err := ThankYou("a@x.com", "Ana", "Polished")
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, ThankYouSubject, msg.Subject)
	assert.Contains(t, msg.HTML, "Dear Ana,")
	assert.Contains(t, msg.HTML, "Polished")
	assert.Contains(t, msg.Text, "Dear Ana,")
}

func TestFollowUpTemplate_EscapesNameAndKeepsLink(t *testing.T) {
	link, err := FeedbackLink("https://salon.test/feedback", "tok-123")
	require.NoError(t, err)

	msg, err := FollowUp("a@x.com", "<b>Ana</b>", "Polished", link)
	require.NoError(t, err)

	assert.Equal(t, FollowUpSubject, msg.Subject)
	assert.NotContains(t, msg.HTML, "<b>Ana</b>")
	assert.Contains(t, msg.HTML, "&lt;b&gt;Ana&lt;/b&gt;")
	assert.Contains(t, msg.HTML, "https://salon.test/feedback?token=tok-123")
	assert.Contains(t, msg.Text, "https://salon.test/feedback?token=tok-123")
}

func TestFeedbackLink(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"plain base", "https://your-salon.com/feedback", "https://your-salon.com/feedback?token=abc"},
		{"existing query", "https://s.test/f?src=email", "https://s.test/f?src=email&token=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FeedbackLink(tt.base, "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildMessage(t *testing.T) {
	raw, err := buildMessage(
		Sender{Name: "Your Nail Salon", Email: "hello@salon.test"},
		Message{To: "a@x.com", Subject: ThankYouSubject, HTML: "<p>hi</p>", Text: "hi"},
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	)
	require.NoError(t, err)

	parsed, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, ThankYouSubject, subject)
	assert.Equal(t, `"Your Nail Salon" <hello@salon.test>`, parsed.Header.Get("From"))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var types []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, strings.SplitN(part.Header.Get("Content-Type"), ";", 2)[0])
	}
	assert.Equal(t, []string{"text/plain", "text/html"}, types)
}

func TestClassifySMTP(t *testing.T) {
	authErr := classifySMTP(&textproto.Error{Code: 535, Msg: "5.7.8 Username and Password not accepted"})
	assert.ErrorIs(t, authErr, ErrAuth)
	assert.True(t, strings.HasPrefix(authErr.Error(), "smtp authentication failed"))

	other := classifySMTP(&textproto.Error{Code: 550, Msg: "mailbox unavailable"})
	assert.NotErrorIs(t, other, ErrAuth)
	assert.True(t, strings.HasPrefix(other.Error(), "smtp error"))
}

type fakeSES struct {
	err   error
	input *ses.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESGateway_Send(t *testing.T) {
	client := &fakeSES{}
	g := &SESGateway{client: client, from: "hello@salon.test", logger: zap.NewNop()}

	err := g.Send(context.Background(), Message{To: "a@x.com", Subject: "s", HTML: "<p>h</p>", Text: "h"})
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, []string{"a@x.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "<p>h</p>", aws.ToString(client.input.Message.Body.Html.Data))
	assert.Equal(t, "h", aws.ToString(client.input.Message.Body.Text.Data))
}

func TestSESGateway_ClassifiesAuthErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{"bad token", &smithy.GenericAPIError{Code: "InvalidClientTokenId", Message: "bad"}, true},
		{"bad signature", &smithy.GenericAPIError{Code: "SignatureDoesNotMatch", Message: "bad"}, true},
		{"throttled", &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"}, false},
		{"network", errors.New("dial tcp: timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &SESGateway{client: &fakeSES{err: tt.err}, logger: zap.NewNop()}
			err := g.Send(context.Background(), Message{To: "a@x.com", Subject: "s", HTML: "h"})
			require.Error(t, err)
			assert.Equal(t, tt.wantAuth, errors.Is(err, ErrAuth))
		})
	}
}

func TestLogGateway(t *testing.T) {
	g := NewLogGateway(zap.NewNop())
	assert.NoError(t, g.Send(context.Background(), Message{To: "a@x.com"}))
}
