package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/models"
)

// seedCall initializes the database behind path and starts one answered call.
func seedCall(t *testing.T, path, id string) {
	t.Helper()
	if _, err := run(t, "db", "init", "--config", path); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	}()

	ctx := context.Background()
	m := lifecycle.New(gormDB, nil)
	at := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	for i, st := range []string{carrier.StatusRinging, carrier.StatusAnswered} {
		if _, err := m.ApplyEvent(ctx, lifecycle.Event{
			CallID: id, Status: st, OccurredAt: at.Add(time.Duration(i) * time.Second),
			From: "+14165550100", To: "+14165550199",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := gormDB.Model(&models.CallSession{}).Where("id = ?", id).Update("needs_review", true).Error; err != nil {
		t.Fatal(err)
	}
}

func TestCallList(t *testing.T) {
	path := writeTestConfig(t)
	if _, err := run(t, "db", "init", "--config", path); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "call", "list", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No calls found.") {
		t.Errorf("empty list = %s", out)
	}

	seedCall(t, path, "CA1")
	out, err = run(t, "call", "list", "--config", path, "--needs-review")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "CA1") || !strings.Contains(out, carrier.StatusAnswered) {
		t.Errorf("list = %s", out)
	}
}

func TestCallShowAndReview(t *testing.T) {
	path := writeTestConfig(t)
	seedCall(t, path, "CA1")

	out, err := run(t, "call", "show", "CA1", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Call:      CA1", "Consent:   unknown", "Flags:     R", "Events (2):"} {
		if !strings.Contains(out, want) {
			t.Errorf("show missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "call", "review", "CA1", "--config", path); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "call", "list", "--config", path, "--needs-review")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No calls found.") {
		t.Errorf("after review = %s", out)
	}
}

func TestCallShow_Unknown(t *testing.T) {
	path := writeTestConfig(t)
	if _, err := run(t, "db", "init", "--config", path); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "call", "show", "CA404", "--config", path); err == nil {
		t.Error("expected error for unknown call")
	}
}
