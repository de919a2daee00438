package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/discord"
	"github.com/minelink/minelink/internal/fetch"
	"github.com/minelink/minelink/internal/linking"
	"github.com/minelink/minelink/internal/verification"
)

// Domain error names as they appear on the wire.
const (
	domainInvalidSharedSecret  = "InvalidSharedSecret"
	domainDatabaseError        = "DatabaseError"
	domainCodeGenerationFailed = "CodeGenerationFailed"
	domainInvalidLinkingCode   = "InvalidLinkingCode"
	domainInvalidState         = "InvalidState"
	domainInvalidCode          = "InvalidCode"
	domainDiscordError         = "DiscordError"
	domainAccessDenied         = "AccessDenied"
	domainNotLinked            = "NotLinked"
	domainInvalidAuth          = "InvalidAuth"
)

// Handlers implements the service's RPC methods over the linking pipeline.
type Handlers struct {
	cfg         *config.Config
	flows       *verification.Manager
	coordinator *linking.Coordinator
	verifier    *linking.Verifier
	log         *logrus.Entry
}

// NewHandlers creates the method handlers.
func NewHandlers(cfg *config.Config, flows *verification.Manager, coordinator *linking.Coordinator, verifier *linking.Verifier, log *logrus.Entry) *Handlers {
	return &Handlers{
		cfg:         cfg,
		flows:       flows,
		coordinator: coordinator,
		verifier:    verifier,
		log:         log.WithField("component", "rpc.handlers"),
	}
}

// Methods returns the routing table for the dispatcher. Built once at
// startup and injected; the dispatcher copies it.
func (h *Handlers) Methods() map[string]Handler {
	return map[string]Handler{
		"createVerificationFlow": h.createVerificationFlow,
		"getDiscordOAuthLink":    h.getDiscordOAuthLink,
		"linkDiscordAccount":     h.linkDiscordAccount,
		"verifyConnection":       h.verifyConnection,
	}
}

type createVerificationFlowParams struct {
	MinecraftUUID string `json:"minecraftUUID"`
	SharedSecret  string `json:"sharedSecret"`
}

type createVerificationFlowResult struct {
	LinkingCode string    `json:"linkingCode"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *Handlers) createVerificationFlow(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p createVerificationFlowParams
	if errObj := unmarshalParams(params, &p); errObj != nil {
		return nil, errObj
	}
	playerUUID, errObj := normalizeUUID(p.MinecraftUUID)
	if errObj != nil {
		return nil, errObj
	}

	if !h.cfg.VerifySharedSecret(p.SharedSecret) {
		return nil, domainError(domainInvalidSharedSecret)
	}

	flow, err := h.flows.CreateOrReuse(ctx, playerUUID)
	if err != nil {
		if errors.Is(err, verification.ErrCodeGeneration) {
			return nil, domainError(domainCodeGenerationFailed)
		}
		h.log.WithError(err).Error("createVerificationFlow failed")
		return nil, domainError(domainDatabaseError)
	}

	return createVerificationFlowResult{
		LinkingCode: flow.Code,
		ExpiresAt:   flow.ExpiresAt,
	}, nil
}

type getDiscordOAuthLinkParams struct {
	LinkingCode string `json:"linkingCode"`
}

type getDiscordOAuthLinkResult struct {
	OAuthURL string `json:"oauthURL"`
}

func (h *Handlers) getDiscordOAuthLink(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p getDiscordOAuthLinkParams
	if errObj := unmarshalParams(params, &p); errObj != nil {
		return nil, errObj
	}
	if p.LinkingCode == "" {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "Invalid params"}
	}

	oauthURL, err := h.coordinator.AuthorizeURL(ctx, p.LinkingCode)
	if err != nil {
		if errors.Is(err, linking.ErrInvalidLinkingCode) {
			return nil, domainError(domainInvalidLinkingCode)
		}
		h.log.WithError(err).Error("getDiscordOAuthLink failed")
		return nil, domainError(domainDatabaseError)
	}

	return getDiscordOAuthLinkResult{OAuthURL: oauthURL}, nil
}

type linkDiscordAccountParams struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type linkDiscordAccountResult struct {
	DiscordUsername string `json:"discordUsername"`
}

func (h *Handlers) linkDiscordAccount(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p linkDiscordAccountParams
	if errObj := unmarshalParams(params, &p); errObj != nil {
		return nil, errObj
	}
	if p.Code == "" || p.State == "" {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "Invalid params"}
	}

	username, err := h.coordinator.Link(ctx, p.Code, p.State)
	if err != nil {
		switch {
		case errors.Is(err, linking.ErrInvalidState):
			return nil, domainError(domainInvalidState)
		case errors.Is(err, linking.ErrInvalidLinkingCode):
			return nil, domainError(domainInvalidLinkingCode)
		case errors.Is(err, linking.ErrInvalidCode):
			return nil, domainError(domainInvalidCode)
		case errors.Is(err, linking.ErrAccessDenied):
			return nil, domainError(domainAccessDenied)
		case isProviderFailure(err):
			h.log.WithError(err).Warn("linkDiscordAccount provider failure")
			return nil, domainError(domainDiscordError)
		default:
			h.log.WithError(err).Error("linkDiscordAccount failed")
			return nil, domainError(domainDatabaseError)
		}
	}

	return linkDiscordAccountResult{DiscordUsername: username}, nil
}

type verifyConnectionParams struct {
	MinecraftUUID string `json:"minecraftUUID"`
	SharedSecret  string `json:"sharedSecret"`
}

func (h *Handlers) verifyConnection(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	var p verifyConnectionParams
	if errObj := unmarshalParams(params, &p); errObj != nil {
		return nil, errObj
	}
	playerUUID, errObj := normalizeUUID(p.MinecraftUUID)
	if errObj != nil {
		return nil, errObj
	}

	if !h.cfg.VerifySharedSecret(p.SharedSecret) {
		return nil, domainError(domainInvalidSharedSecret)
	}

	if err := h.verifier.VerifyConnection(ctx, playerUUID); err != nil {
		switch {
		case errors.Is(err, linking.ErrNotLinked):
			return nil, domainError(domainNotLinked)
		case errors.Is(err, linking.ErrInvalidAuth):
			return nil, domainError(domainInvalidAuth)
		case errors.Is(err, linking.ErrAccessDenied):
			return nil, domainError(domainAccessDenied)
		case isProviderFailure(err):
			h.log.WithError(err).Warn("verifyConnection provider failure")
			return nil, domainError(domainDiscordError)
		default:
			h.log.WithError(err).Error("verifyConnection failed")
			return nil, domainError(domainDatabaseError)
		}
	}

	return Null, nil
}

func domainError(name string) *ErrorObject {
	return &ErrorObject{Code: CodeDomainError, Message: name}
}

// normalizeUUID canonicalizes a Minecraft UUID (with or without dashes)
// to its lowercase dashed form; a malformed value is a params error.
func normalizeUUID(raw string) (string, *ErrorObject) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ErrorObject{Code: CodeInvalidParams, Message: "Invalid params"}
	}
	return parsed.String(), nil
}

// isProviderFailure reports whether err came out of the provider client
// stack: a transport-level fetch failure or a classified provider error.
func isProviderFailure(err error) bool {
	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		return true
	}
	return errors.Is(err, discord.ErrInvalidAuth) ||
		errors.Is(err, discord.ErrInsufficientPermissions) ||
		errors.Is(err, discord.ErrUnexpectedResponse) ||
		errors.Is(err, discord.ErrUnknown)
}
