package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/discord"
	"github.com/minelink/minelink/internal/models"
)

// Verifier re-checks that a linked Discord account still belongs to the
// configured guild. It runs at login time via RPC and periodically via the
// background sweep, and is the only component that deletes a Connection.
type Verifier struct {
	db        *gorm.DB
	tokens    *discord.TokenService
	directory *discord.Directory
	cfg       config.DiscordConfig
	log       *logrus.Entry
}

// NewVerifier creates a re-verification handler.
func NewVerifier(db *gorm.DB, tokens *discord.TokenService, directory *discord.Directory, cfg config.DiscordConfig, log *logrus.Entry) *Verifier {
	return &Verifier{
		db:        db,
		tokens:    tokens,
		directory: directory,
		cfg:       cfg,
		log:       log.WithField("component", "reverify"),
	}
}

// VerifyConnection confirms the player's linked account is still entitled.
// Membership loss deletes the Connection and reports ErrAccessDenied; the
// next check then reports ErrNotLinked.
func (v *Verifier) VerifyConnection(ctx context.Context, playerUUID string) error {
	var player models.MinecraftPlayer
	err := v.db.WithContext(ctx).Where("uuid = ?", playerUUID).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotLinked
	}
	if err != nil {
		return fmt.Errorf("linking: look up player: %w", err)
	}

	var conn models.Connection
	err = v.db.WithContext(ctx).Where("minecraft_player_id = ?", player.ID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotLinked
	}
	if err != nil {
		return fmt.Errorf("linking: look up connection: %w", err)
	}

	var account models.DiscordAccount
	err = v.db.WithContext(ctx).First(&account, conn.DiscordAccountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotLinked
	}
	if err != nil {
		return fmt.Errorf("linking: look up account: %w", err)
	}

	if account.RefreshToken == nil || *account.RefreshToken == "" {
		return ErrInvalidAuth
	}

	tokenSet, err := v.tokens.Refresh(ctx, *account.RefreshToken)
	if err != nil {
		if errors.Is(err, discord.ErrInvalidAuth) {
			return ErrInvalidAuth
		}
		return err
	}

	// The provider rotates the refresh token on every grant; the one we
	// just spent is dead, so the replacement must be stored before anything
	// else can fail.
	if err := v.db.WithContext(ctx).Model(&account).
		Update("refresh_token", tokenSet.RefreshToken).Error; err != nil {
		return fmt.Errorf("linking: store rotated token: %w", err)
	}

	guilds, err := v.directory.FetchGuilds(ctx, tokenSet.AccessToken)
	if err != nil {
		return err
	}

	if !memberOf(guilds, v.cfg.GuildID) {
		return v.unlink(ctx, &account, &conn, tokenSet.RefreshToken)
	}

	return nil
}

// unlink removes an unentitled connection, revokes the credential we hold
// for it (best effort), and reports ErrAccessDenied.
func (v *Verifier) unlink(ctx context.Context, account *models.DiscordAccount, conn *models.Connection, refreshToken string) error {
	if err := v.db.WithContext(ctx).Delete(conn).Error; err != nil {
		return fmt.Errorf("linking: delete connection: %w", err)
	}

	if err := v.tokens.Revoke(ctx, refreshToken); err != nil {
		v.log.WithField("discord_id", account.DiscordID).WithError(err).
			Warn("failed to revoke token for unlinked account")
	}
	if err := v.db.WithContext(ctx).Model(account).
		Update("refresh_token", nil).Error; err != nil {
		v.log.WithField("discord_id", account.DiscordID).WithError(err).
			Warn("failed to clear stored refresh token")
	}

	v.log.WithFields(logrus.Fields{
		"discord_id": account.DiscordID,
	}).Info("membership lost, connection removed")

	return ErrAccessDenied
}

// SweepResult summarizes one pass of the periodic re-verification job.
type SweepResult struct {
	Checked  int
	Unlinked int
	Failed   int
}

// Sweep re-verifies every current connection. Individual failures are
// logged and counted but never abort the pass.
func (v *Verifier) Sweep(ctx context.Context) (SweepResult, error) {
	var players []models.MinecraftPlayer
	err := v.db.WithContext(ctx).
		Joins("JOIN connections ON connections.minecraft_player_id = minecraft_players.id").
		Find(&players).Error
	if err != nil {
		return SweepResult{}, fmt.Errorf("linking: list linked players: %w", err)
	}

	var result SweepResult
	for i := range players {
		result.Checked++
		err := v.VerifyConnection(ctx, players[i].UUID)
		switch {
		case err == nil:
		case errors.Is(err, ErrAccessDenied):
			result.Unlinked++
		case errors.Is(err, ErrNotLinked):
			// Raced with an unlink between listing and checking.
		default:
			result.Failed++
			v.log.WithField("player_uuid", players[i].UUID).WithError(err).
				Warn("re-verification failed")
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	return result, nil
}
