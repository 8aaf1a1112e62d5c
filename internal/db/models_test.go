package db

import "testing"

func TestTaskKindTable(t *testing.T) {
	tests := []struct {
		kind TaskKind
		want string
	}{
		{KindThankYou, "thank_you_emails"},
		{KindFollowUp, "followup_emails"},
	}

	for _, tt := range tests {
		if got := tt.kind.table(); got != tt.want {
			t.Errorf("%s.table() = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestFailureReportSuccessRate(t *testing.T) {
	tests := []struct {
		name   string
		report FailureReport
		want   float64
	}{
		{"nothing attempted", FailureReport{}, 0},
		{"all sent", FailureReport{Total: 4, Sent: 4}, 100},
		{"half sent", FailureReport{Total: 10, Sent: 5, Failed: 5}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Database: "d", SSLMode: "disable"}
	if got := cfg.DSN(); got != "host=db port=5432 user=u dbname=d sslmode=disable" {
		t.Errorf("unexpected dsn: %s", got)
	}

	cfg.Password = "p"
	if got := cfg.DSN(); got != "host=db port=5432 user=u dbname=d sslmode=disable password=p" {
		t.Errorf("unexpected dsn: %s", got)
	}

	cfg.URL = "postgres://x"
	if got := cfg.DSN(); got != "postgres://x" {
		t.Errorf("URL should win, got %s", got)
	}
}
