package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/models"
)

var (
	// ErrCodeGeneration means repeated attempts to mint a collision-free
	// code all failed.
	ErrCodeGeneration = errors.New("verification: code generation failed")

	// ErrFlowNotFound means no unexpired flow matches the given code.
	ErrFlowNotFound = errors.New("verification: flow not found")
)

// maxGenerationAttempts bounds how often a live-code collision is retried.
const maxGenerationAttempts = 5

// errCodeCollision aborts an insert transaction when the generated code is
// already held by a live flow.
var errCodeCollision = errors.New("verification: code collision")

// Manager owns the linking-code lifecycle. It is the only component that
// creates verification flows or sweeps expired ones.
type Manager struct {
	db  *gorm.DB
	log *logrus.Entry

	ttl        time.Duration
	codeLength int

	// generate and now are swappable in tests.
	generate func(int) (string, error)
	now      func() time.Time
}

// NewManager creates a flow manager with the configured TTL and code length.
func NewManager(db *gorm.DB, cfg config.VerificationConfig, log *logrus.Entry) *Manager {
	return &Manager{
		db:         db,
		log:        log.WithField("component", "verification"),
		ttl:        cfg.TTL,
		codeLength: cfg.CodeLength,
		generate:   GenerateCode,
		now:        time.Now,
	}
}

// CreateOrReuse returns the active flow for a player, minting one if none
// exists. Re-requesting within the TTL is idempotent: the same code comes
// back with its expiry pushed out to now+TTL.
func (m *Manager) CreateOrReuse(ctx context.Context, playerUUID string) (*models.VerificationFlow, error) {
	now := m.now()

	var existing models.VerificationFlow
	err := m.db.WithContext(ctx).
		Where("player_uuid = ? AND expires_at > ?", playerUUID, now).
		First(&existing).Error
	if err == nil {
		existing.ExpiresAt = now.Add(m.ttl)
		if err := m.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("verification: extend flow: %w", err)
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("verification: look up flow: %w", err)
	}

	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		code, err := m.generate(m.codeLength)
		if err != nil {
			return nil, err
		}

		flow := models.VerificationFlow{
			Code:       code,
			PlayerUUID: playerUUID,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.ttl),
		}

		err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Vacate this player's stale flow so the per-player slot is free.
			if err := tx.Where("player_uuid = ? AND expires_at <= ?", playerUUID, now).
				Delete(&models.VerificationFlow{}).Error; err != nil {
				return err
			}

			var colliding models.VerificationFlow
			err := tx.Where("code = ?", code).First(&colliding).Error
			switch {
			case err == nil && colliding.Expired(now):
				// The code space is reclaimable: drop the stale row.
				if err := tx.Delete(&colliding).Error; err != nil {
					return err
				}
			case err == nil:
				return errCodeCollision
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}

			return tx.Create(&flow).Error
		})
		switch {
		case err == nil:
			return &flow, nil
		case errors.Is(err, errCodeCollision), errors.Is(err, gorm.ErrDuplicatedKey):
			// Live collision, or a concurrent insert won the unique index.
			m.log.WithField("attempt", attempt).Debug("linking-code collision, regenerating")
			continue
		default:
			return nil, fmt.Errorf("verification: create flow: %w", err)
		}
	}

	return nil, ErrCodeGeneration
}

// FindActive resolves an unexpired flow by its linking code.
func (m *Manager) FindActive(ctx context.Context, code string) (*models.VerificationFlow, error) {
	var flow models.VerificationFlow
	err := m.db.WithContext(ctx).
		Where("code = ? AND expires_at > ?", code, m.now()).
		First(&flow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verification: look up code: %w", err)
	}
	return &flow, nil
}

// DeleteExpired sweeps flows whose validity window has passed. Run
// periodically; expiry itself is enforced by the queries above, the sweep
// just keeps the table small.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("expires_at <= ?", m.now()).
		Delete(&models.VerificationFlow{})
	if result.Error != nil {
		return 0, fmt.Errorf("verification: delete expired flows: %w", result.Error)
	}
	return result.RowsAffected, nil
}
