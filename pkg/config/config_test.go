package config

import "testing"

func TestDatabaseValidate(t *testing.T) {
	tests := []struct {
		name    string
		db      Database
		wantErr bool
	}{
		{
			name: "valid",
			db: Database{
				Host: "localhost", Port: 5432, User: "agent", Password: "secret",
				Database: "research_agent", MaxOpenConns: 10, MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name:    "missing password",
			db:      Database{Host: "localhost", Port: 5432, User: "agent", MaxOpenConns: 10, MaxIdleConns: 5},
			wantErr: true,
		},
		{
			name: "idle exceeds open",
			db: Database{
				Host: "localhost", Password: "secret", MaxOpenConns: 5, MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero open conns",
			db: Database{
				Host: "localhost", Password: "secret", MaxOpenConns: 0, MaxIdleConns: 0,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.db.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLimitsFor(t *testing.T) {
	free := LimitsFor(PlanFree)
	if free.DailyTaskLimit != 5 || free.ConcurrentTaskLimit != 1 || free.MaxCycles != 5 {
		t.Fatalf("unexpected free plan limits: %+v", free)
	}

	premium := LimitsFor(PlanPremium)
	if premium.DailyTaskLimit != 100 || premium.ConcurrentTaskLimit != 5 || premium.MaxCycles != 100 {
		t.Fatalf("unexpected premium plan limits: %+v", premium)
	}

	// Unknown plans fall back to free, so callers never panic on bad data.
	unknown := LimitsFor(Plan("nonexistent"))
	if unknown != free {
		t.Fatalf("expected unknown plan to default to free limits, got %+v", unknown)
	}
}

func TestRateLimitFor(t *testing.T) {
	rl, ok := RateLimitFor(ActionTaskCreate)
	if !ok {
		t.Fatal("expected task_create rate limit to be defined")
	}
	if rl.PerMinute != 2 || rl.PerHour != 10 || rl.PerDay != 50 {
		t.Fatalf("unexpected task_create limits: %+v", rl)
	}

	if _, ok := RateLimitFor("unknown_action"); ok {
		t.Fatal("expected unknown action kind to report ok=false")
	}
}
