package policy

import (
	"sync"

	"github.com/xela07ax/spaceai-pacer/internal/domain"
	"go.uber.org/zap"
)

// SessionStore — потокобезопасный in-memory кэш эффективных профилей по сессиям.
// Перезапись хранится целиком (база + overrides), поэтому повторный Set
// полностью заменяет предыдущее значение, без слияния с ним.
type SessionStore struct {
	mu sync.RWMutex
	// Кэш: sessionID -> итоговый профиль
	overrides map[string]domain.PolicyProfile

	base   domain.PolicyProfile // Процессный профиль по умолчанию
	logger *zap.Logger
}

func NewSessionStore(baseProfile string, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SessionStore{
		overrides: make(map[string]domain.PolicyProfile),
		logger:    logger.Named("policy-store"),
	}
	s.base = s.resolve(baseProfile)
	return s
}

// Base — процессный профиль, действующий для сессий без перезаписи
func (s *SessionStore) Base() domain.PolicyProfile {
	return s.base
}

// Set собирает профиль из именованной базы и частичных перезаписей и сохраняет его за сессией.
func (s *SessionStore) Set(sessionID, profileName string, overrides *domain.ProfileOverrides) domain.PolicyProfile {
	p := overrides.Apply(s.resolve(profileName))
	if p.Normalize() {
		s.logger.Warn("profile overrides violated invariants and were normalized",
			zap.String("session_id", sessionID),
			zap.String("profile", p.Name))
	}

	s.mu.Lock()
	s.overrides[sessionID] = p
	s.mu.Unlock()

	s.logger.Debug("session policy set",
		zap.String("session_id", sessionID),
		zap.String("profile", p.Name))
	return p
}

// Get — Hot Path: перезапись сессии, иначе базовый профиль
func (s *SessionStore) Get(sessionID string) domain.PolicyProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.overrides[sessionID]; ok {
		return p
	}
	return s.base
}

// Delete удаляет перезапись сессии. Состояние доменов чистит движок.
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.overrides, sessionID)
	s.mu.Unlock()
}

func (s *SessionStore) resolve(name string) domain.PolicyProfile {
	p, ok := Resolve(name)
	if !ok {
		// Прощаем опечатку, но делаем её видимой
		s.logger.Warn("unknown policy profile, falling back to safe",
			zap.String("requested", name))
	}
	return p
}
