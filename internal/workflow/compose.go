package workflow

import (
	"errors"

	"github.com/lalithlochan/aftercare/internal/db"
	"github.com/lalithlochan/aftercare/internal/mail"
	"github.com/lalithlochan/aftercare/internal/worker"
)

var errMissingToken = errors.New("follow-up task has no feedback token")

// ThankYouComposer renders thank-you tasks.
func ThankYouComposer(salonName string) worker.Composer {
	return func(task *db.EmailTask) (mail.Message, error) {
		return mail.ThankYou(task.EmailAddress, task.CustomerName, salonName)
	}
}

// FollowUpComposer renders follow-up tasks with their feedback link.
func FollowUpComposer(salonName, feedbackBaseURL string) worker.Composer {
	return func(task *db.EmailTask) (mail.Message, error) {
		if task.FeedbackToken == "" {
			return mail.Message{}, errMissingToken
		}
		link, err := mail.FeedbackLink(feedbackBaseURL, task.FeedbackToken)
		if err != nil {
			return mail.Message{}, err
		}
		return mail.FollowUp(task.EmailAddress, task.CustomerName, salonName, link)
	}
}
