package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestProfiles_Invariants(t *testing.T) {
	for _, p := range Profiles() {
		t.Run(p.Name, func(t *testing.T) {
			assert.LessOrEqual(t, p.JitterMin, p.JitterMax)
			assert.GreaterOrEqual(t, p.DomainMinInterval, time.Duration(0))
			assert.GreaterOrEqual(t, p.JitterMin, time.Duration(0))
			assert.GreaterOrEqual(t, p.CooldownAfterError, time.Duration(0))
		})
	}
}

func TestResolve_Table(t *testing.T) {
	tests := []struct {
		name        string
		interval    time.Duration
		jitterMin   time.Duration
		jitterMax   time.Duration
		cooldown    time.Duration
		maxRetries  uint
		maxPerMin   uint
		allowSensit bool
	}{
		{domain.ProfileSafe, 1500 * time.Millisecond, 300 * time.Millisecond, 800 * time.Millisecond, 8 * time.Second, 3, 8, false},
		{domain.ProfilePermissive, 200 * time.Millisecond, 0, 100 * time.Millisecond, time.Second, 10, 60, true},
		{domain.ProfileDisabled, 0, 0, 0, 0, 999, 9999, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Resolve(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.name, p.Name)
			assert.Equal(t, tt.interval, p.DomainMinInterval)
			assert.Equal(t, tt.jitterMin, p.JitterMin)
			assert.Equal(t, tt.jitterMax, p.JitterMax)
			assert.Equal(t, tt.cooldown, p.CooldownAfterError)
			assert.Equal(t, tt.maxRetries, p.MaxRetriesPerDomain)
			assert.Equal(t, tt.maxPerMin, p.MaxActionsPerMinute)
			assert.Equal(t, tt.allowSensit, p.AllowSensitiveActions)
		})
	}
}

func TestResolve_UnknownFallsBackToSafe(t *testing.T) {
	p, ok := Resolve("paranoid")
	assert.False(t, ok)
	assert.Equal(t, domain.ProfileSafe, p.Name)
}

func TestSessionStore_UnknownBaseIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewSessionStore("nope", zap.New(core))

	assert.Equal(t, domain.ProfileSafe, s.Base().Name)
	assert.Equal(t, 1, logs.FilterMessage("unknown policy profile, falling back to safe").Len())
}

func TestSessionStore_SetReplacesWithoutInheritance(t *testing.T) {
	s := NewSessionStore(domain.ProfileSafe, nil)

	interval := 50 * time.Millisecond
	allow := true
	first := s.Set("s1", domain.ProfilePermissive, &domain.ProfileOverrides{
		DomainMinInterval:     &interval,
		AllowSensitiveActions: &allow,
	})
	assert.Equal(t, interval, first.DomainMinInterval)
	assert.Equal(t, uint(60), first.MaxActionsPerMinute)

	// Второй Set не наследует interval от первого
	retries := uint(1)
	second := s.Set("s1", domain.ProfileSafe, &domain.ProfileOverrides{MaxRetriesPerDomain: &retries})
	assert.Equal(t, 1500*time.Millisecond, second.DomainMinInterval)
	assert.Equal(t, uint(1), second.MaxRetriesPerDomain)
	assert.False(t, second.AllowSensitiveActions)
	assert.Equal(t, second, s.Get("s1"))
}

func TestSessionStore_GetFallsBackToBase(t *testing.T) {
	s := NewSessionStore(domain.ProfilePermissive, nil)
	assert.Equal(t, domain.ProfilePermissive, s.Get("unknown-session").Name)

	s.Set("s1", domain.ProfileDisabled, nil)
	assert.Equal(t, domain.ProfileDisabled, s.Get("s1").Name)

	s.Delete("s1")
	assert.Equal(t, domain.ProfilePermissive, s.Get("s1").Name)
}

func TestSessionStore_NormalizesBrokenOverrides(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewSessionStore(domain.ProfileSafe, zap.New(core))

	lo, hi, neg := 900*time.Millisecond, 100*time.Millisecond, -time.Second
	p := s.Set("s1", domain.ProfileSafe, &domain.ProfileOverrides{
		JitterMin:          &lo,
		JitterMax:          &hi,
		CooldownAfterError: &neg,
	})

	assert.Equal(t, hi, p.JitterMin)
	assert.Equal(t, lo, p.JitterMax)
	assert.Equal(t, time.Duration(0), p.CooldownAfterError)
	assert.Equal(t, 1, logs.Len())
}
