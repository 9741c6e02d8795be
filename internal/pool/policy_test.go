package pool

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"Strato/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseTrigger(t *testing.T) {
	valid := []string{"queue_length", "response_time", "cpu_usage", "memory_usage", "combined_load", "manual"}
	for _, s := range valid {
		if _, err := ParseTrigger(s); err != nil {
			t.Errorf("ParseTrigger(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseTrigger("disk_usage"); err == nil {
		t.Error("expected unknown trigger to be rejected")
	}
}

func TestPolicyFromConfigFallbackTrigger(t *testing.T) {
	p := PolicyFromConfig(config.PolicyConfig{
		Trigger:    "bogus",
		MinWorkers: 1,
		MaxWorkers: 5,
	})
	if p.Trigger != TriggerQueueLength {
		t.Errorf("expected queue_length fallback, got %s", p.Trigger)
	}
}

func TestSanitizeCorrections(t *testing.T) {
	p := Policy{
		MinWorkers:         0,
		MaxWorkers:         -1,
		ScaleUpThreshold:   0.1,
		ScaleDownThreshold: 0.5,
		Cooldown:           -time.Second,
		Step:               0,
	}
	p.sanitize(testLogger())

	if p.MinWorkers != 1 {
		t.Errorf("expected min_workers corrected to 1, got %d", p.MinWorkers)
	}
	if p.MaxWorkers < p.MinWorkers {
		t.Errorf("expected max_workers >= min_workers, got %d", p.MaxWorkers)
	}
	if p.ScaleUpThreshold <= p.ScaleDownThreshold {
		t.Errorf("expected thresholds reordered, got up=%f down=%f",
			p.ScaleUpThreshold, p.ScaleDownThreshold)
	}
	if p.Cooldown != 0 {
		t.Errorf("expected cooldown corrected to 0, got %s", p.Cooldown)
	}
	if p.Step != 1 {
		t.Errorf("expected step corrected to 1, got %d", p.Step)
	}
}

func TestSanitizeKeepsValidPolicy(t *testing.T) {
	p := Policy{
		Trigger:            TriggerCombinedLoad,
		MinWorkers:         2,
		MaxWorkers:         8,
		ScaleUpThreshold:   0.75,
		ScaleDownThreshold: 0.25,
		Cooldown:           90 * time.Second,
		Step:               2,
	}
	before := p
	p.sanitize(testLogger())
	if p != before {
		t.Errorf("valid policy was modified: %+v -> %+v", before, p)
	}
}

func TestCooldownGate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := Policy{Cooldown: 60 * time.Second}

	if !p.CanScaleNow(now) {
		t.Error("expected fresh policy to allow scaling")
	}

	p.MarkScaled(now)
	if p.CanScaleNow(now.Add(30 * time.Second)) {
		t.Error("expected cooldown to block scaling at 30s")
	}
	if got := p.CooldownRemaining(now.Add(30 * time.Second)); got != 30*time.Second {
		t.Errorf("expected 30s remaining, got %s", got)
	}

	if !p.CanScaleNow(now.Add(60 * time.Second)) {
		t.Error("expected cooldown elapsed at exactly 60s")
	}
	if got := p.CooldownRemaining(now.Add(90 * time.Second)); got != 0 {
		t.Errorf("expected no cooldown remaining, got %s", got)
	}
}

func TestZeroCooldownNeverBlocks(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := Policy{Cooldown: 0}

	p.MarkScaled(now)
	if !p.CanScaleNow(now) {
		t.Error("expected zero cooldown to always allow scaling")
	}
}
