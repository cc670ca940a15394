package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "JUDGE_MODEL", "JUDGE_RPS", "SCHEDULE_INTERVAL_MINUTES", "CRM_COMMENT_FIELD"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Judge.RequestsPerSecond != 2 || cfg.Judge.Timeout != 60*time.Second {
		t.Errorf("Judge = %+v", cfg.Judge)
	}
	if cfg.CRM.CommentField != "comments" || cfg.CRM.CustomFieldPrefix != "UF_CRM_" {
		t.Errorf("CRM = %+v", cfg.CRM)
	}
	if cfg.Schedule.Interval != 0 {
		t.Errorf("scheduler should be off by default, got %v", cfg.Schedule.Interval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", " 9090 ")
	t.Setenv("JUDGE_RPS", "0.5")
	t.Setenv("JUDGE_MAX_RETRIES", "not a number")
	t.Setenv("SCHEDULE_INTERVAL_MINUTES", "15")
	t.Setenv("SCHEDULE_LOOKBACK_HOURS", "48")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Judge.RequestsPerSecond != 0.5 {
		t.Errorf("RequestsPerSecond = %v", cfg.Judge.RequestsPerSecond)
	}
	if cfg.Judge.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want the default on parse failure", cfg.Judge.MaxRetries)
	}
	if cfg.Schedule.Interval != 15*time.Minute || cfg.Schedule.Lookback != 48*time.Hour {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}
}
