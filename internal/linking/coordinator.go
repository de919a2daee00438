package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/discord"
	"github.com/minelink/minelink/internal/models"
	"github.com/minelink/minelink/internal/verification"
)

// Coordinator binds a Discord identity to a Minecraft identity. The binding
// is a single forward pass: every step either advances or aborts with no
// persisted identity state touched, so a failed attempt can simply be
// retried against the still-active flow.
type Coordinator struct {
	db        *gorm.DB
	tokens    *discord.TokenService
	directory *discord.Directory
	flows     *verification.Manager
	cfg       config.DiscordConfig
	log       *logrus.Entry
	now       func() time.Time
}

// NewCoordinator wires the linking pipeline together.
func NewCoordinator(db *gorm.DB, tokens *discord.TokenService, directory *discord.Directory, flows *verification.Manager, cfg config.DiscordConfig, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		db:        db,
		tokens:    tokens,
		directory: directory,
		flows:     flows,
		cfg:       cfg,
		log:       log.WithField("component", "linking"),
		now:       time.Now,
	}
}

// AuthorizeURL returns the provider consent URL for an active linking code.
// Absent or expired codes yield ErrInvalidLinkingCode.
func (c *Coordinator) AuthorizeURL(ctx context.Context, linkingCode string) (string, error) {
	if _, err := c.flows.FindActive(ctx, linkingCode); err != nil {
		if errors.Is(err, verification.ErrFlowNotFound) {
			return "", ErrInvalidLinkingCode
		}
		return "", err
	}

	state := EncodeState(linkingCode, c.now())
	return c.tokens.AuthorizeURL(state), nil
}

// Link completes the OAuth callback: it validates the round-tripped state
// against the issuing flow, trades the authorization code for tokens,
// checks guild membership, and commits the binding in one transaction.
// It returns the linked Discord username.
func (c *Coordinator) Link(ctx context.Context, code, rawState string) (string, error) {
	state, err := DecodeState(rawState)
	if err != nil {
		return "", err
	}

	flow, err := c.flows.FindActive(ctx, state.LinkingCode)
	if err != nil {
		if errors.Is(err, verification.ErrFlowNotFound) {
			return "", ErrInvalidLinkingCode
		}
		return "", err
	}

	tokenSet, err := c.tokens.ExchangeCode(ctx, code, c.cfg.RedirectURL)
	if err != nil {
		if errors.Is(err, discord.ErrInvalidCode) {
			return "", ErrInvalidCode
		}
		return "", err
	}

	profile, err := c.directory.FetchProfile(ctx, tokenSet.AccessToken)
	if err != nil {
		return "", err
	}

	guilds, err := c.directory.FetchGuilds(ctx, tokenSet.AccessToken)
	if err != nil {
		return "", err
	}
	if !memberOf(guilds, c.cfg.GuildID) {
		// No state mutated; the flow stays active so the user can retry
		// after joining the guild.
		return "", ErrAccessDenied
	}

	if err := c.commit(ctx, flow, profile, tokenSet.RefreshToken); err != nil {
		return "", fmt.Errorf("linking: commit binding: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"player_uuid": flow.PlayerUUID,
		"discord_id":  profile.ID,
	}).Info("accounts linked")

	return profile.Username, nil
}

// commit performs the all-or-nothing write: upsert both identities, replace
// the player's connection, and consume the flow. Running it as one
// transaction means two concurrent attempts for the same flow cannot both
// partially succeed; uniqueness is enforced by the database, not by locks.
func (c *Coordinator) commit(ctx context.Context, flow *models.VerificationFlow, profile *discord.Profile, refreshToken string) error {
	now := c.now()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := models.DiscordAccount{
			DiscordID:    profile.ID,
			Username:     profile.Username,
			RefreshToken: &refreshToken,
			CreatedAt:    now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "discord_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "refresh_token"}),
		}).Create(&account).Error; err != nil {
			return err
		}
		// Re-read: on conflict the insert does not report the existing ID.
		if err := tx.Where("discord_id = ?", profile.ID).First(&account).Error; err != nil {
			return err
		}

		player := models.MinecraftPlayer{UUID: flow.PlayerUUID, CreatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uuid"}},
			DoNothing: true,
		}).Create(&player).Error; err != nil {
			return err
		}
		if err := tx.Where("uuid = ?", flow.PlayerUUID).First(&player).Error; err != nil {
			return err
		}

		// The account may already be bound to another player; that binding
		// loses to this one, same as the player-side replacement below.
		if err := tx.Where("discord_account_id = ? AND minecraft_player_id <> ?", account.ID, player.ID).
			Delete(&models.Connection{}).Error; err != nil {
			return err
		}

		conn := models.Connection{
			DiscordAccountID:  account.ID,
			MinecraftPlayerID: player.ID,
			CreatedAt:         now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "minecraft_player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"discord_account_id", "created_at"}),
		}).Create(&conn).Error; err != nil {
			return err
		}

		return tx.Delete(&models.VerificationFlow{}, flow.ID).Error
	})
}

func memberOf(guilds []discord.Guild, guildID string) bool {
	for _, g := range guilds {
		if g.ID == guildID {
			return true
		}
	}
	return false
}
