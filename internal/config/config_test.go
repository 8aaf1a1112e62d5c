package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("THANK_YOU_SEND_TIMES", "")
	t.Setenv("BATCH_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.BatchSize)
	}
	if cfg.BatchDelay != 2*time.Second {
		t.Errorf("expected batch delay 2s, got %s", cfg.BatchDelay)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.MaxRetries)
	}
	if cfg.EmailMaxRetries != 3 {
		t.Errorf("expected 3 email attempts, got %d", cfg.EmailMaxRetries)
	}
	if cfg.FollowUpDays != 7 {
		t.Errorf("expected 7 follow-up days, got %d", cfg.FollowUpDays)
	}
	if len(cfg.ThankYouSendTimes) != 2 || cfg.ThankYouSendTimes[0] != "12:00" || cfg.ThankYouSendTimes[1] != "19:00" {
		t.Errorf("unexpected send times: %v", cfg.ThankYouSendTimes)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("THANK_YOU_SEND_TIMES", " 09:30, 18:00 ")
	t.Setenv("EMAIL_DELAY_BETWEEN_BATCH", "0.5")
	t.Setenv("RETRY_DELAY", "1s")
	t.Setenv("TIMEZONE", "Europe/London")
	t.Setenv("ENABLE_ALERTS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if got := cfg.SendTimes(); len(got) != 2 || got[0] != (TimeOfDay{9, 30}) || got[1] != (TimeOfDay{18, 0}) {
		t.Errorf("unexpected send times: %v", got)
	}
	if cfg.BatchDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %s", cfg.BatchDelay)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("expected 1s, got %s", cfg.RetryDelay)
	}
	if cfg.Location().String() != "Europe/London" {
		t.Errorf("expected Europe/London, got %s", cfg.Location())
	}
	if cfg.EnableAlerts {
		t.Error("expected alerts disabled")
	}
}

func TestLoad_SourceRetriesDoNotChangeEmailRetries(t *testing.T) {
	t.Setenv("MAX_RETRIES", "8")
	t.Setenv("EMAIL_MAX_RETRIES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.MaxRetries != 8 {
		t.Errorf("expected 8 source attempts, got %d", cfg.MaxRetries)
	}
	if cfg.EmailMaxRetries != 3 {
		t.Errorf("expected email attempts to stay 3, got %d", cfg.EmailMaxRetries)
	}

	t.Setenv("EMAIL_MAX_RETRIES", "5")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.EmailMaxRetries != 5 || cfg.MaxRetries != 8 {
		t.Errorf("expected 5 email and 8 source attempts, got %d and %d", cfg.EmailMaxRetries, cfg.MaxRetries)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "abc"},
		{"bad batch size", "BATCH_SIZE", "0"},
		{"bad email retries", "EMAIL_MAX_RETRIES", "0"},
		{"bad send time", "THANK_YOU_SEND_TIMES", "25:00"},
		{"bad timezone", "TIMEZONE", "Mars/Olympus"},
		{"bad transport", "MAIL_TRANSPORT", "pigeon"},
		{"bad alert email", "ALERT_EMAIL", "not-an-email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestTimeOfDay_On(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	day := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC) // 23:00 on the 13th in New York
	got := TimeOfDay{Hour: 12}.On(day, loc)

	want := time.Date(2026, 3, 13, 12, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}
