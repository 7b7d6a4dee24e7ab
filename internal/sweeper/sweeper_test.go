package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/idempotency"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/ratelimit"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.IdempotencyRecord{}, &models.RateLimitCounter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSweep_DeletesExpiredRows(t *testing.T) {
	db := openTestDB(t)
	clock := func() time.Time { return t0 }

	idem := idempotency.New(db, config.IdempotencyConfig{}, nil)
	idem.SetClock(clock)
	records := []models.IdempotencyRecord{
		{Key: "old", OperationType: "sms.inbound", Status: models.IdempotencyCompleted, RequestHash: "h", ExpiresAt: t0.Add(-time.Minute)},
		{Key: "live", OperationType: "sms.inbound", Status: models.IdempotencyCompleted, RequestHash: "h", ExpiresAt: t0.Add(time.Hour)},
	}
	if err := db.Create(&records).Error; err != nil {
		t.Fatal(err)
	}
	counters := []models.RateLimitCounter{
		{Identifier: "+14165550100", IdentifierType: ratelimit.IdentifierPhone, Endpoint: "sms.inbound", WindowStartMs: t0.Add(-2 * time.Hour).UnixMilli(), Count: 3},
		{Identifier: "+14165550100", IdentifierType: ratelimit.IdentifierPhone, Endpoint: "sms.inbound", WindowStartMs: t0.Add(-time.Minute).UnixMilli(), Count: 1},
	}
	if err := db.Create(&counters).Error; err != nil {
		t.Fatal(err)
	}

	s := New(idem, ratelimit.NewGormStore(db), time.Hour, nil)
	s.SetClock(clock)
	rep, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Idempotency != 1 || rep.Counters != 1 {
		t.Errorf("report = %+v, want 1 and 1", rep)
	}

	var keys []string
	db.Model(&models.IdempotencyRecord{}).Pluck("idem_key", &keys)
	if len(keys) != 1 || keys[0] != "live" {
		t.Errorf("remaining records = %v, want [live]", keys)
	}
	var n int64
	db.Model(&models.RateLimitCounter{}).Count(&n)
	if n != 1 {
		t.Errorf("remaining buckets = %d, want 1", n)
	}
}

type failing struct{ err error }

func (f failing) DeleteExpired(context.Context) (int64, error) { return 0, f.err }

type bucketCounter struct{ cutoff time.Time }

func (b *bucketCounter) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	b.cutoff = cutoff
	return 4, nil
}

func TestSweep_ContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	buckets := &bucketCounter{}
	s := New(failing{boom}, buckets, 30*time.Minute, nil)
	s.SetClock(func() time.Time { return t0 })

	rep, err := s.Sweep(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if rep.Counters != 4 {
		t.Errorf("counters = %d, want 4", rep.Counters)
	}
	if want := t0.Add(-30 * time.Minute); !buckets.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", buckets.cutoff, want)
	}
}

func TestSweep_WithoutCounterStore(t *testing.T) {
	s := New(nil, nil, time.Hour, nil)
	rep, err := s.Sweep(context.Background())
	if err != nil || rep != (Report{}) {
		t.Errorf("Sweep = %+v, %v", rep, err)
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		schedule string
		want     time.Duration
	}{
		{"*/15 * * * *", 15 * time.Minute},
		{"* * * * *", time.Minute},
		{"0 3 * * *", 12 * time.Hour},
	}
	for _, tt := range tests {
		got, err := Next(tt.schedule, t0)
		if err != nil {
			t.Errorf("Next(%q): %v", tt.schedule, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%q) = %v, want %v", tt.schedule, got, tt.want)
		}
	}
	if _, err := Next("not a schedule", t0); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(nil, nil, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "0 3 * * *") }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := New(nil, nil, time.Hour, nil)
	if err := s.Run(context.Background(), "bogus"); err == nil {
		t.Error("expected error")
	}
}
