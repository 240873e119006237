package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avieira/authgate/internal/auth"
	"github.com/avieira/authgate/internal/config"
	"github.com/avieira/authgate/internal/domain/user"
	"github.com/avieira/authgate/internal/http/middlewares"
	"github.com/avieira/authgate/internal/observability"
	"github.com/avieira/authgate/internal/security"
	"github.com/avieira/authgate/internal/store/memory"
	"github.com/gin-gonic/gin"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id int64) (user.User, error)
}

type UserWriter interface {
	Insert(ctx context.Context, draft memory.Draft) (user.User, error)
}

type AuthHandler struct {
	users   UserReader
	writer  UserWriter
	jwt     *auth.Manager
	revoked auth.RevocationStore // nil when revocation is disabled
	cfg     config.Config
	log     *slog.Logger
	metrics *observability.Prom
}

func NewAuthHandler(users UserReader, writer UserWriter, jwtManager *auth.Manager, revoked auth.RevocationStore, cfg config.Config, log *slog.Logger, metrics *observability.Prom) *AuthHandler {
	return &AuthHandler{
		users:   users,
		writer:  writer,
		jwt:     jwtManager,
		revoked: revoked,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		h.countAuth("register", "rejected")
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		h.log.Error("hash password failed", "err", err)
		h.countAuth("register", "error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.writer.Insert(ctx.Request.Context(), memory.Draft{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		// new accounts never start privileged
		Role: user.RoleUser,
	})

	if err != nil {
		if errors.Is(err, memory.ErrEmailAlreadyUsed) {
			h.countAuth("register", "rejected")
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		h.log.Error("insert user failed", "err", err)
		h.countAuth("register", "error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	token, err := h.jwt.Issue(u.ID, u.Email)

	if err != nil {
		h.log.Error("issue token failed", "err", err)
		h.countAuth("register", "error")
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setSessionCookie(ctx, token)
	h.countAuth("register", "ok")

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Registered",
		"user":    u.Redacted(),
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		h.countAuth("login", "rejected")
		return
	}

	foundUser, err := h.users.GetByEmail(ctx.Request.Context(), req.Email)
	if err != nil {
		// same outcome as a bad password: no user-existence leak
		h.countAuth("login", "rejected")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countAuth("login", "rejected")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	token, err := h.jwt.Issue(foundUser.ID, foundUser.Email)

	if err != nil {
		h.log.Error("issue token failed", "err", err)
		h.countAuth("login", "error")
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setSessionCookie(ctx, token)
	h.countAuth("login", "ok")

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Logged in",
		"user":    foundUser.Redacted(),
	})
}

// Logout always clears the cookie and acknowledges; it never validates the
// caller. Without a revocation store an already-issued token stays valid
// until natural expiry -- the documented trade-off of stateless sessions.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	if h.revoked != nil {
		if raw, err := ctx.Cookie(middlewares.SessionCookieName); err == nil && raw != "" {
			if claims, err := h.jwt.Verify(raw); err == nil {
				ttl := time.Until(claims.ExpiresAt.Time)
				if ttl > 0 {
					// best-effort; logout succeeds regardless
					if err := h.revoked.Revoke(ctx.Request.Context(), claims.JTI, ttl); err != nil {
						h.log.Warn("revoke token failed", "err", err)
					}
				}
			}
		}
	}

	h.clearSessionCookie(ctx)

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Logged out",
	})
}

// Me runs behind the session gate; claims are already verified.
func (h *AuthHandler) Me(ctx *gin.Context) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	u, err := h.users.GetByID(ctx.Request.Context(), id)
	if err != nil {
		RespondNotFound(ctx, "User not found")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user": u.Redacted(),
	})
}

// Helper functions

func (h *AuthHandler) countAuth(op, result string) {
	if h.metrics != nil {
		h.metrics.AuthAttempts.WithLabelValues(op, result).Inc()
	}
}

func (h *AuthHandler) setSessionCookie(ctx *gin.Context, token string) {
	secure := h.cfg.Env == "prod"

	maxAge := int(h.jwt.TTL().Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		middlewares.SessionCookieName,
		token,
		maxAge,
		"/",
		"",
		secure,
		true, // HttpOnly.
	)
}

// clearSessionCookie uses the same attribute set as setSessionCookie;
// some cookie implementations refuse removal on a mismatch.
func (h *AuthHandler) clearSessionCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		middlewares.SessionCookieName,
		"",
		-1,
		"/",
		"",
		secure,
		true,
	)
}
