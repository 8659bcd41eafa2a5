package config

import (
	"strings"
	"testing"
	"time"
)

func TestTierLimit_Window(t *testing.T) {
	tests := []struct {
		name    string
		tier    TierLimit
		want    time.Duration
		wantErr bool
	}{
		{
			name: "seconds",
			tier: TierLimit{Seconds: 30, Quota: 5},
			want: 30 * time.Second,
		},
		{
			name: "minutes",
			tier: TierLimit{Minutes: 5, Quota: 5},
			want: 5 * time.Minute,
		},
		{
			name: "hours",
			tier: TierLimit{Hours: 2, Quota: 5},
			want: 2 * time.Hour,
		},
		{
			name: "days",
			tier: TierLimit{Days: 1, Quota: 5},
			want: 24 * time.Hour,
		},
		{
			name:    "no_window_field",
			tier:    TierLimit{Quota: 5},
			wantErr: true,
		},
		{
			name:    "two_window_fields",
			tier:    TierLimit{Seconds: 30, Minutes: 1, Quota: 5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tier.Window()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Window() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Window() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTierLimit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tier    TierLimit
		wantErr bool
	}{
		{
			name: "valid",
			tier: TierLimit{Seconds: 1, Quota: 10},
		},
		{
			name: "valid_with_burst",
			tier: TierLimit{Minutes: 1, Quota: 10, Burst: Uint32Ptr(4)},
		},
		{
			name:    "zero_quota",
			tier:    TierLimit{Seconds: 1},
			wantErr: true,
		},
		{
			name:    "negative_window",
			tier:    TierLimit{Seconds: -1, Quota: 10},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tier.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRouteLimit_Validate(t *testing.T) {
	tests := []struct {
		name    string
		route   RouteLimit
		wantErr string
	}{
		{
			name: "valid_multi_tier",
			route: RouteLimit{
				Path: "guild/{guild_id}",
				Tiers: []TierLimit{
					{Seconds: 1, Quota: 3},
					{Minutes: 1, Quota: 10},
					{Hours: 1, Quota: 30},
				},
			},
		},
		{
			name:    "empty_path",
			route:   RouteLimit{Tiers: []TierLimit{{Seconds: 1, Quota: 1}}},
			wantErr: "path",
		},
		{
			name:    "no_tiers",
			route:   RouteLimit{Path: "global"},
			wantErr: "tier",
		},
		{
			name: "same_window_in_different_units",
			route: RouteLimit{
				Path: "global",
				Tiers: []TierLimit{
					{Seconds: 60, Quota: 5},
					{Minutes: 1, Quota: 10},
				},
			},
			wantErr: "twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLimits(t *testing.T) {
	valid := []RouteLimit{
		{Path: "global", Tiers: []TierLimit{{Seconds: 1, Quota: 10}}},
		{Path: "user/{user_id}", Tiers: []TierLimit{{Seconds: 15, Quota: 2}}},
	}
	if err := ValidateLimits(valid); err != nil {
		t.Errorf("ValidateLimits() unexpected error = %v", err)
	}

	if err := ValidateLimits(nil); err == nil {
		t.Error("expected error for empty limits")
	}

	duplicate := []RouteLimit{
		{Path: "global", Tiers: []TierLimit{{Seconds: 1, Quota: 10}}},
		{Path: "global", Tiers: []TierLimit{{Minutes: 1, Quota: 100}}},
	}
	err := ValidateLimits(duplicate)
	if err == nil {
		t.Fatal("expected error for duplicate route path")
	}
	if !strings.Contains(err.Error(), "twice") {
		t.Errorf("error = %v, want mention of duplicate declaration", err)
	}
}
