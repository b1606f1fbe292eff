// Package middleware carries the auth middleware of the JSON API: token
// resolution against the users table and a per-IP rate limit on failed
// authentication attempts.
package middleware

import (
	"context"
	"net/http"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

type contextKey string

const userKey contextKey = "user"

// TokenHeader is the request header carrying the opaque API token.
const TokenHeader = "token"

// UserFrom returns the authenticated user, or nil on public routes where
// no token was presented.
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// errInvalidToken is what every bad-token path renders: 403 with the
// domain code the reference clients dispatch on.
func errInvalidToken() *apperr.ClientError {
	return &apperr.ClientError{
		Message: "Invalid token.",
		Status:  http.StatusForbidden,
		Code:    apperr.CodeInvalidToken,
	}
}

// ErrorWriter renders taxonomy errors; the api package provides it to
// avoid an import cycle.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Auth resolves tokens against users. The zero value is unusable; use
// NewAuth.
type Auth struct {
	users    store.UserStore
	limiter  *FailureLimiter
	writeErr ErrorWriter
}

// NewAuth creates the auth middleware. limiter may be nil to disable
// rate limiting (tests).
func NewAuth(users store.UserStore, limiter *FailureLimiter, writeErr ErrorWriter) *Auth {
	return &Auth{users: users, limiter: limiter, writeErr: writeErr}
}

// Require rejects requests without a valid token.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.resolve(r)
		if err != nil {
			a.writeErr(w, r, err)
			return
		}
		if user == nil {
			a.writeErr(w, r, errInvalidToken())
			return
		}
		next.ServeHTTP(w, r.WithContext(a.withUser(r, user)))
	})
}

// Optional resolves the token when present; an invalid token is still an
// error, but no token at all passes through anonymously.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.resolve(r)
		if err != nil {
			a.writeErr(w, r, err)
			return
		}
		if user != nil {
			r = r.WithContext(a.withUser(r, user))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) withUser(r *http.Request, user *models.User) context.Context {
	ctx := context.WithValue(r.Context(), userKey, user)
	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.WithUser(user.Username))
	}
	return ctx
}

// resolve looks the token header up. (nil, nil) means no token was sent.
func (a *Auth) resolve(r *http.Request) (*models.User, error) {
	token := r.Header.Get(TokenHeader)
	if token == "" {
		return nil, nil
	}

	ip := ClientIP(r)
	if a.limiter != nil && !a.limiter.Allow(ip) {
		return nil, apperr.ClientStatusf(http.StatusTooManyRequests, "Too many auth failures. Try again later.")
	}

	user, err := a.users.GetUserByToken(r.Context(), token)
	if err != nil {
		switch err {
		case models.ErrUserNotFound, models.ErrInvalidToken:
			if a.limiter != nil {
				a.limiter.Failure(ip)
			}
			return nil, errInvalidToken()
		case models.ErrUserDisabled:
			return nil, apperr.ClientStatusf(http.StatusForbidden, "This account has been disabled.")
		default:
			return nil, apperr.Serverf(err, "failed to authenticate request")
		}
	}
	return user, nil
}
