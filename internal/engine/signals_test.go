package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

func TestParsePolicySignal(t *testing.T) {
	s, err := parsePolicySignal(`{"session_id":" s1 ","profile":"permissive","overrides":{"domain_min_interval_ms":2000}}`)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, "permissive", s.Profile)
	require.NotNil(t, s.Overrides)
	o := s.Overrides.Overrides()
	require.NotNil(t, o.DomainMinInterval)
	assert.Equal(t, 2*time.Second, *o.DomainMinInterval)

	_, err = parsePolicySignal(`{"profile":"safe"}`)
	assert.Error(t, err)

	_, err = parsePolicySignal(`s1:safe`)
	assert.Error(t, err)

	_, err = parsePolicySignal(`{"session_id":"s1","profile":"turbo"}`)
	assert.ErrorContains(t, err, `unknown profile "turbo"`)

	_, err = parsePolicySignal(`{"session_id":"s1","profile":"safe","overrides":{"cooldown_after_error_ms":9300000000000}}`)
	assert.ErrorIs(t, err, domain.ErrDurationOutOfRange)
}
