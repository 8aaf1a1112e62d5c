// Package source reads completed appointments from the booking platform API.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrUnavailable is returned once every attempt against the API has failed.
var ErrUnavailable = errors.New("appointment source unavailable")

const (
	defaultCustomerName = "Valued Customer"
	defaultServiceName  = "Nail Service"
)

// Customer is the client attached to an appointment
type Customer struct {
	ExternalID string
	Name       string
	Email      string
	Phone      string
}

// Appointment is one completed booking
type Appointment struct {
	ExternalID  string
	Customer    Customer
	ServiceName string
	StartTime   time.Time
}

// Config holds API access and retry settings
type Config struct {
	BaseURL     string
	APIKey      string
	BusinessID  string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	PageLimit   int
	// Location is used for day boundaries and for start times without an offset
	Location *time.Location
}

// Client talks to the booking platform REST API
type Client struct {
	http     *http.Client
	cfg      Config
	validate *validator.Validate
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
}

// VerifyConnection checks credentials by fetching the business record.
func (c *Client) VerifyConnection(ctx context.Context) error {
	var business map[string]any
	if err := c.get(ctx, "/businesses/"+url.PathEscape(c.cfg.BusinessID), nil, &business); err != nil {
		c.logger.Error("failed to verify appointment source connection", zap.Error(err))
		return err
	}
	c.logger.Info("appointment source connection verified")
	return nil
}

// ListCompletedAppointments returns completed appointments starting on the
// calendar day of day (in the configured location).
func (c *Client) ListCompletedAppointments(ctx context.Context, day time.Time) ([]Appointment, error) {
	date := day.In(c.cfg.Location).Format("2006-01-02")

	params := url.Values{}
	params.Set("filter[start_date_min]", date+"T00:00:00")
	params.Set("filter[start_date_max]", date+"T23:59:59")
	params.Set("filter[status]", "completed")
	params.Set("limit", fmt.Sprint(c.cfg.PageLimit))

	var resp appointmentsResponse
	endpoint := "/businesses/" + url.PathEscape(c.cfg.BusinessID) + "/appointments"
	if err := c.get(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}

	out := make([]Appointment, 0, len(resp.Data))
	for _, raw := range resp.Data {
		appt, err := c.convert(raw)
		if err != nil {
			c.logger.Warn("dropping malformed appointment record",
				zap.String("appointment_id", string(raw.ID)),
				zap.Error(err),
			)
			continue
		}
		out = append(out, appt)
	}

	c.logger.Info("fetched completed appointments",
		zap.String("date", date),
		zap.Int("count", len(out)),
	)
	return out, nil
}

// get performs a GET with constant-backoff retries. Transport errors, non-2xx
// statuses and undecodable bodies are all retried.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	attempt := 0
	op := func() error {
		attempt++
		err := c.do(ctx, u, out)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("appointment source request failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("%w: GET %s after %d attempts: %v", ErrUnavailable, path, attempt, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) convert(raw apiAppointment) (Appointment, error) {
	if err := c.validate.Struct(raw); err != nil {
		return Appointment{}, err
	}

	start, err := parseStart(raw.StartDate, c.cfg.Location)
	if err != nil {
		return Appointment{}, err
	}

	name := strings.TrimSpace(raw.Customer.Name)
	if name == "" {
		name = defaultCustomerName
	}
	service := strings.TrimSpace(raw.Service.Name)
	if service == "" {
		service = defaultServiceName
	}

	email := strings.TrimSpace(raw.Customer.Email)
	if email != "" {
		if err := c.validate.Var(email, "email"); err != nil {
			c.logger.Warn("ignoring invalid customer email",
				zap.String("appointment_id", string(raw.ID)),
			)
			email = ""
		}
	}

	return Appointment{
		ExternalID: string(raw.ID),
		Customer: Customer{
			ExternalID: string(raw.Customer.ID),
			Name:       name,
			Email:      email,
			Phone:      strings.TrimSpace(raw.Customer.Phone),
		},
		ServiceName: service,
		StartTime:   start,
	}, nil
}

var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseStart(v string, loc *time.Location) (time.Time, error) {
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable start_date %q", v)
}
