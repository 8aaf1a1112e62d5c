package db

import (
	"errors"
	"time"
)

// Customer mirrors a client record from the appointment source
type Customer struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      *string   `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Appointment is a completed booking ingested from the source
type Appointment struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	CustomerID      int64      `json:"customer_id"`
	ServiceType     string     `json:"service_type"`
	AppointmentDate time.Time  `json:"appointment_date"`
	CompletionDate  *time.Time `json:"completion_date,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TaskKind selects one of the two email task tables
type TaskKind string

const (
	KindThankYou TaskKind = "thank_you"
	KindFollowUp TaskKind = "followup"
)

func (k TaskKind) table() string {
	if k == KindFollowUp {
		return "followup_emails"
	}
	return "thank_you_emails"
}

// EmailTask is a scheduled, retryable email for one appointment.
// FeedbackToken and FeedbackProvided are only set for follow-ups.
type EmailTask struct {
	ID               int64      `json:"id"`
	Kind             TaskKind   `json:"kind"`
	AppointmentID    int64      `json:"appointment_id"`
	CustomerID       int64      `json:"customer_id"`
	CustomerName     string     `json:"customer_name"`
	EmailAddress     string     `json:"email_address"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	FeedbackToken    string     `json:"feedback_token,omitempty"`
	FeedbackProvided bool       `json:"feedback_provided,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// FollowUpCandidate is a completed appointment that has no follow-up yet
type FollowUpCandidate struct {
	AppointmentID   int64     `json:"appointment_id"`
	CustomerID      int64     `json:"customer_id"`
	CustomerName    string    `json:"customer_name"`
	Email           string    `json:"email"`
	ServiceType     string    `json:"service_type"`
	AppointmentDate time.Time `json:"appointment_date"`
}

// DeliveryLog is one row per send attempt
type DeliveryLog struct {
	ID            int64     `json:"id"`
	EmailAddress  string    `json:"email_address"`
	EmailType     string    `json:"email_type"`
	Subject       string    `json:"subject"`
	Status        string    `json:"status"`
	AppointmentID *int64    `json:"appointment_id,omitempty"`
	SentAt        time.Time `json:"sent_at"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
}

// ExecutionLog is one row per workflow run
type ExecutionLog struct {
	ID              int64     `json:"id"`
	ScriptName      string    `json:"script_name"`
	ExecutedAt      time.Time `json:"execution_date"`
	Status          string    `json:"status"`
	EmailsSent      int       `json:"emails_sent"`
	EmailsSkipped   int       `json:"emails_skipped"`
	EmailsFailed    int       `json:"emails_failed"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	DurationSeconds float64   `json:"execution_time_seconds"`
}

// StatusCounts is the aggregate view behind the status command
type StatusCounts struct {
	Customers       int64 `json:"customers"`
	Appointments    int64 `json:"appointments"`
	ThankYouPending int64 `json:"thank_you_pending"`
	ThankYouFailed  int64 `json:"thank_you_failed"`
	FollowUpPending int64 `json:"followup_pending"`
	FollowUpFailed  int64 `json:"followup_failed"`
	DatabaseBytes   int64 `json:"database_bytes"`
}

// ErrorCount is one row of the top-errors list
type ErrorCount struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// FailureReport summarises delivery outcomes since a point in time
type FailureReport struct {
	Since     time.Time    `json:"since"`
	Total     int64        `json:"total"`
	Sent      int64        `json:"sent"`
	Failed    int64        `json:"failed"`
	TopErrors []ErrorCount `json:"top_errors"`
}

// SuccessRate is sent/total as a percentage; zero when nothing was attempted.
func (f *FailureReport) SuccessRate() float64 {
	if f.Total == 0 {
		return 0
	}
	return float64(f.Sent) / float64(f.Total) * 100
}

// ScriptStats aggregates execution rows for one script
type ScriptStats struct {
	ScriptName      string  `json:"script_name"`
	Runs            int64   `json:"runs"`
	EmailsSent      int64   `json:"emails_sent"`
	EmailsSkipped   int64   `json:"emails_skipped"`
	EmailsFailed    int64   `json:"emails_failed"`
	AvgDurationSecs float64 `json:"avg_execution_time_seconds"`
}

// Task status constants
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Appointment status constants
const (
	AppointmentPending   = "pending"
	AppointmentCompleted = "completed"
)

// Execution status constants
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrTaskExists is returned when a task for the same appointment (and slot) is already stored.
	ErrTaskExists = errors.New("email task already exists")
)
