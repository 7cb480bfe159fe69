package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/handlers/render"
	"github.com/nkiryanov/labtrack/internal/handlers/userctx"
	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/models"
)

// Role sets used by routes
var (
	AnyAuthenticated   = []models.Role{}
	AdminOnly          = []models.Role{models.RoleAdmin}
	CoordinatorOrAdmin = []models.Role{models.RoleAdmin, models.RoleProjectCoordinator}
	WeldingOperations  = []models.Role{models.RoleAdmin, models.RoleWeldingCoordinator}
)

const bearerPrefix = "Bearer "

type SessionVerifier interface {
	// Return active user the access token belongs to and the token claims
	VerifySession(ctx context.Context, access string) (models.User, models.AccessClaims, error)
}

type rejectionRecorder interface {
	GateRejected(kind string)
}

type nopRecorder struct{}

func (nopRecorder) GateRejected(string) {}

// Gate authenticates requests with bearer access token and checks user role
type Gate struct {
	verifier SessionVerifier
	logger   logger.Logger
	metrics  rejectionRecorder
}

func NewGate(verifier SessionVerifier, l logger.Logger, metrics rejectionRecorder) *Gate {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Gate{verifier: verifier, logger: l, metrics: metrics}
}

// Require returns middleware that lets through only authenticated users with one of the roles
// Empty roles means any authenticated user
func (g *Gate) Require(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := slices.Clone(roles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := BearerToken(r)
			if err != nil {
				g.reject(w, r, err)
				return
			}

			user, claims, err := g.verifier.VerifySession(r.Context(), access)
			if err != nil {
				g.reject(w, r, err)
				return
			}

			// Role is taken from db, so role changes apply before the token expires
			if len(allowed) > 0 && !slices.Contains(allowed, user.Role) {
				g.reject(w, r, fmt.Errorf("%w: role %q not in %v", apperrors.ErrForbidden, user.Role, allowed))
				return
			}

			ctx := userctx.New(r.Context(), user, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	kind := render.AppError(w, err, false)
	g.metrics.GateRejected(kind.Name)

	if kind.Status >= http.StatusInternalServerError {
		g.logger.Error("session verification failed", "uri", r.RequestURI, "error", err)
		return
	}
	g.logger.Info("request rejected", "uri", r.RequestURI, "kind", kind.Name, "reason", err)
}

// BearerToken extracts token from 'Authorization: Bearer <token>' header
// The scheme is case-sensitive and separated from the token with exactly one space
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: no authorization header", apperrors.ErrMissingCredential)
	}

	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok {
		return "", fmt.Errorf("%w: not a bearer scheme", apperrors.ErrMissingCredential)
	}
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", fmt.Errorf("%w: malformed bearer token", apperrors.ErrMissingCredential)
	}

	return token, nil
}
