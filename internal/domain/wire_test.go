package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverridesMs_Overrides(t *testing.T) {
	var in OverridesMs
	require.NoError(t, json.Unmarshal([]byte(`{"domain_min_interval_ms":2500,"allow_sensitive_actions":true}`), &in))

	o := in.Overrides()
	require.NotNil(t, o.DomainMinInterval)
	assert.Equal(t, 2500*time.Millisecond, *o.DomainMinInterval)
	assert.Nil(t, o.JitterMin)
	require.NotNil(t, o.AllowSensitiveActions)
	assert.True(t, *o.AllowSensitiveActions)

	var nilIn *OverridesMs
	assert.Nil(t, nilIn.Overrides())
}

func TestOverrides_ApplyFieldByField(t *testing.T) {
	base := PolicyProfile{Name: "safe", DomainMinInterval: time.Second, JitterMax: time.Second, MaxRetriesPerDomain: 3}
	two := uint(2)
	o := &ProfileOverrides{MaxRetriesPerDomain: &two}

	got := o.Apply(base)
	assert.Equal(t, uint(2), got.MaxRetriesPerDomain)
	assert.Equal(t, time.Second, got.DomainMinInterval)
	assert.Equal(t, uint(3), base.MaxRetriesPerDomain)
}

func TestProfileView(t *testing.T) {
	v := PolicyProfile{Name: "safe", DomainMinInterval: 1500 * time.Millisecond, MaxActionsPerMinute: 8}.View()
	assert.Equal(t, int64(1500), v.DomainMinIntervalMs)
	assert.Equal(t, uint(8), v.MaxActionsPerMinute)
}

func TestOverridesMs_Validate(t *testing.T) {
	ptr := func(v int64) *int64 { return &v }

	tests := []struct {
		name    string
		in      *OverridesMs
		wantErr string
	}{
		{"nil", nil, ""},
		{"empty", &OverridesMs{}, ""},
		{"largest allowed", &OverridesMs{CooldownAfterErrorMs: ptr(MaxDurationMs)}, ""},
		{"negative is left to Normalize", &OverridesMs{JitterMinMs: ptr(-5)}, ""},
		{"cooldown overflow", &OverridesMs{CooldownAfterErrorMs: ptr(MaxDurationMs + 1)}, "cooldown_after_error_ms"},
		{"interval overflow", &OverridesMs{DomainMinIntervalMs: ptr(math.MaxInt64)}, "domain_min_interval_ms"},
		{"jitter underflow", &OverridesMs{JitterMaxMs: ptr(math.MinInt64)}, "jitter_max_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrDurationOutOfRange)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	// Граница переводится без переполнения
	o := (&OverridesMs{CooldownAfterErrorMs: ptr(MaxDurationMs)}).Overrides()
	assert.Positive(t, *o.CooldownAfterError)
}
