package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/handlers/middleware"
	"github.com/nkiryanov/labtrack/internal/handlers/render"
	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/metrics"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Options struct {
	// Show raw internal errors to clients
	Debug bool

	// Login requests per minute per client IP, not limited if zero
	LoginRateLimit int

	// Gate rejections are not counted and /metrics is not served if not set
	Metrics *metrics.Metrics

	// /healthz checks the database with it if set
	Pinger pinger
}

func NewRouter(
	authService authService,
	userService userService,
	logger logger.Logger,
	opts Options,
) http.Handler {
	var gate *middleware.Gate
	if opts.Metrics != nil {
		gate = middleware.NewGate(authService, logger, opts.Metrics)
	} else {
		gate = middleware.NewGate(authService, logger, nil)
	}

	withRoles := func(roles []models.Role, h http.Handler) http.Handler {
		return gate.Require(roles...)(h)
	}

	errs := errorWriter{logger: logger, debug: opts.Debug}

	login := handleLogin(authService, errs)
	if opts.LoginRateLimit > 0 {
		login = middleware.LoginRateLimit(opts.LoginRateLimit)(login)
	}

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /register", handleRegister(authService, errs))
	apiauth.Handle("POST /login", login)
	apiauth.Handle("POST /refresh", handleRefresh(authService, errs))
	apiauth.Handle("POST /logout", handleLogout(authService))
	apiauth.Handle("POST /logout-all", withRoles(middleware.AnyAuthenticated, handleLogoutAll(authService, errs)))
	apiauth.Handle("GET /me", withRoles(middleware.AnyAuthenticated, handleMe()))
	apiauth.Handle("PUT /password", withRoles(middleware.AnyAuthenticated, handleChangePassword(authService, errs)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	root.Handle("GET /api/users", withRoles(middleware.CoordinatorOrAdmin, handleListUsers(userService, errs)))
	root.Handle("POST /api/users", withRoles(middleware.AdminOnly, handleCreateUser(userService, errs)))
	root.Handle("GET /api/users/{id}", withRoles(middleware.CoordinatorOrAdmin, handleGetUser(userService, errs)))
	root.Handle("PATCH /api/users/{id}/role", withRoles(middleware.AdminOnly, handleSetRole(userService, errs)))
	root.Handle("PATCH /api/users/{id}/active", withRoles(middleware.AdminOnly, handleSetActive(userService, errs)))

	root.Handle("GET /healthz", handleHealth(opts.Pinger))
	if opts.Metrics != nil {
		root.Handle("GET /metrics", opts.Metrics.Handler())
	}

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

// Renders service errors and logs those that are not client faults
type errorWriter struct {
	logger logger.Logger
	debug  bool
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	kind := render.AppError(w, err, e.debug)
	if kind.Status >= http.StatusInternalServerError {
		e.logger.Error("request failed", "method", r.Method, "uri", r.RequestURI, "error", err)
	}
}

type authService interface {
	// Register lab engineer
	// Has to return apperrors.ErrUserAlreadyExists if username or email is taken
	Register(ctx context.Context, p user.CreateUserParams) (models.User, error)

	// Login with username or email
	// Has to return apperrors.ErrInvalidCredentials both for unknown user and wrong password
	Login(ctx context.Context, credential string, password string) (models.Session, error)

	// Rotate refresh token and issue new pair
	// Has to return apperrors.ErrInvalidRefreshToken if token is unknown, revoked or expired
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token, never fails for caller
	Logout(ctx context.Context, refresh string)

	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error

	// Used by authorization gate
	VerifySession(ctx context.Context, access string) (models.User, models.AccessClaims, error)
}

type userService interface {
	CreateUser(ctx context.Context, p user.CreateUserParams) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	ListUsers(ctx context.Context, opts repository.ListUsersOpts) ([]models.User, error)
	SetRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.User, error)
	SetActive(ctx context.Context, userID uuid.UUID, active bool) (models.User, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}
