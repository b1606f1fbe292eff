package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/store/models"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)

const minPasswordLength = 6

// Login exchanges credentials for the account's API token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	ip := middleware.ClientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		WriteError(w, r, apperr.ClientStatusf(http.StatusTooManyRequests,
			"Too many auth failures. Try again later."))
		return
	}

	user, err := h.store.ValidateCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		switch err {
		case models.ErrInvalidCredentials, models.ErrUserNotFound:
			if h.limiter != nil {
				h.limiter.Failure(ip)
			}
			WriteError(w, r, apperr.ClientStatusf(http.StatusForbidden, "Invalid credentials."))
		case models.ErrUserDisabled:
			WriteError(w, r, apperr.ClientStatusf(http.StatusForbidden, "This account has been disabled."))
		default:
			WriteError(w, r, apperr.Serverf(err, "login failed"))
		}
		return
	}

	logger.InfoCtx(r.Context(), "user logged in", "user", user.Username)
	WriteSuccess(w, map[string]any{"token": user.Token})
}

// Register creates a new account when self-registration is enabled.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.EnableUserAccounts {
		WriteError(w, r, apperr.ClientStatusf(http.StatusForbidden, "Registration is currently disabled."))
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if !usernameRe.MatchString(req.Username) {
		WriteError(w, r, apperr.Clientf("Username must be 4 to 32 characters of letters, numbers, - or _."))
		return
	}
	if strings.EqualFold(req.Username, models.RootUsername) {
		WriteError(w, r, apperr.Clientf("That username is reserved."))
		return
	}
	if len(req.Password) < minPasswordLength {
		WriteError(w, r, apperr.Clientf("Password must be at least %d characters long.", minPasswordLength))
		return
	}

	hash, err := models.HashPassword(req.Password)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "registration failed"))
		return
	}
	token, err := models.GenerateToken()
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "registration failed"))
		return
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Token:        token,
		Enabled:      true,
		Permission:   models.RankUser,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if err == models.ErrDuplicateUser {
			WriteError(w, r, apperr.Clientf("Username already exists."))
			return
		}
		if err == models.ErrRootImmutable {
			WriteError(w, r, apperr.Clientf("That username is reserved."))
			return
		}
		WriteError(w, r, apperr.Serverf(err, "registration failed"))
		return
	}

	logger.InfoCtx(r.Context(), "user registered", "user", user.Username)
	WriteSuccess(w, map[string]any{"token": user.Token})
}

// ChangePassword replaces the caller's password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if len(req.Password) < minPasswordLength {
		WriteError(w, r, apperr.Clientf("Password must be at least %d characters long.", minPasswordLength))
		return
	}

	hash, err := models.HashPassword(req.Password)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "password change failed"))
		return
	}
	if err := h.store.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		WriteError(w, r, apperr.Serverf(err, "password change failed"))
		return
	}

	logger.InfoCtx(r.Context(), "password changed", "user", user.Username)
	WriteSuccess(w, nil)
}

// VerifyToken resolves a token to its account summary: group membership,
// permission flags, and the retention periods the account may use.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Token == "" {
		WriteError(w, r, apperr.Clientf("No token provided."))
		return
	}

	ip := middleware.ClientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		WriteError(w, r, apperr.ClientStatusf(http.StatusTooManyRequests,
			"Too many auth failures. Try again later."))
		return
	}

	user, err := h.store.GetUserByToken(r.Context(), req.Token)
	if err != nil {
		if err == models.ErrUserNotFound {
			if h.limiter != nil {
				h.limiter.Failure(ip)
			}
			WriteError(w, r, &apperr.ClientError{
				Message: "Invalid token.",
				Status:  http.StatusForbidden,
				Code:    apperr.CodeInvalidToken,
			})
			return
		}
		WriteError(w, r, apperr.Serverf(err, "token verification failed"))
		return
	}

	extra := map[string]any{
		"username":    user.Username,
		"group":       user.Group(),
		"permissions": permissionFlags(user),
	}
	if h.retention != nil && h.retention.Enabled() {
		extra["retentionPeriods"] = h.retention.PeriodsFor(user.Permission)
		if def, ok := h.retention.DefaultFor(user.Permission); ok {
			extra["defaultRetentionPeriod"] = def
		}
	}
	WriteSuccess(w, extra)
}

// ChangeToken rotates the caller's API token.
func (h *Handler) ChangeToken(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	token, err := h.store.ChangeToken(r.Context(), user.ID)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "token change failed"))
		return
	}

	logger.InfoCtx(r.Context(), "token rotated", "user", user.Username)
	WriteSuccess(w, map[string]any{"token": token})
}

// permissionFlags reports which group thresholds the user clears.
func permissionFlags(user *models.User) map[string]bool {
	flags := make(map[string]bool, len(models.GroupNames))
	for _, g := range models.GroupNames {
		flags[g.Name] = user.Permission >= g.Rank
	}
	return flags
}
