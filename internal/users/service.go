package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/auth"
	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"gorm.io/gorm"
)

const defaultProvider = "stockroom"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service turns validated session claims into ledger actors and keeps the
// identity directory that bulk exports include.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// ResolveActor returns the actor for the claims, registering the identity on
// first sight and refreshing its display fields afterwards.
func (s *Service) ResolveActor(ctx context.Context, claims auth.SessionClaims) (inventory.Actor, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return inventory.Actor{}, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if actor, ok := cached.(inventory.Actor); ok {
			return actor, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return inventory.Actor{}, err
		}
	case err != nil:
		return inventory.Actor{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	actor := inventory.Actor{ID: identity.UserID, Name: identity.Name()}
	s.cache.Store(cacheKey, actor)
	return actor, nil
}

// ListIdentities returns the directory ordered by user id.
func (s *Service) ListIdentities(ctx context.Context) ([]Identity, error) {
	var identities []Identity
	err := s.db.WithContext(ctx).
		Order("user_id ASC, provider ASC").
		Find(&identities).Error
	if err != nil {
		return nil, err
	}
	return identities, nil
}

// deriveProviderSubject splits "provider:subject" user ids; plain ids belong
// to the default provider.
func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if head, tail, found := strings.Cut(raw, ":"); found {
			if normalize(head) != "" && normalize(tail) != "" {
				provider = normalize(head)
				subject = normalize(tail)
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
