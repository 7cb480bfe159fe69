package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/labtrack/internal/handlers/render"
	"github.com/nkiryanov/labtrack/internal/handlers/userctx"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

const tokenType = "Bearer"

type tokensResponse struct {
	AccessToken      string             `json:"access_token"`
	AccessExpiresAt  time.Time          `json:"access_expires_at"`
	RefreshToken     string             `json:"refresh_token"`
	RefreshExpiresAt time.Time          `json:"refresh_expires_at"`
	TokenType        string             `json:"token_type"`
	User             *models.PublicUser `json:"user,omitempty"`
}

func newTokensResponse(pair models.TokenPair) tokensResponse {
	return tokensResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
		TokenType:        tokenType,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func handleRegister(authService authService, errs errorWriter) http.Handler {
	type request struct {
		Username  string `json:"username" validate:"required,min=3,max=150,excludes=@"`
		Email     string `json:"email" validate:"required,email,max=254"`
		Password  string `json:"password" validate:"required,min=8,max=128"`
		FirstName string `json:"first_name" validate:"max=150"`
		LastName  string `json:"last_name" validate:"max=150"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := authService.Register(r.Context(), user.CreateUserParams{
			Username:  data.Username,
			Email:     data.Email,
			Password:  data.Password,
			FirstName: data.FirstName,
			LastName:  data.LastName,
		})
		if err != nil {
			errs.write(w, r, err)
			return
		}

		render.JSONWithStatus(w, u.Public(), http.StatusCreated)
	})
}

func handleLogin(authService authService, errs errorWriter) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := authService.Login(r.Context(), data.Login, data.Password)
		if err != nil {
			errs.write(w, r, err)
			return
		}

		response := newTokensResponse(session.Tokens)
		public := session.User.Public()
		response.User = &public
		render.JSON(w, response)
	})
}

func handleRefresh(authService authService, errs errorWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Refresh(r.Context(), data.RefreshToken)
		if err != nil {
			errs.write(w, r, err)
			return
		}

		render.JSON(w, newTokensResponse(pair))
	})
}

// Logout answers ok whatever token is given, so it can't be used to probe tokens
func handleLogout(authService authService) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidateOptional[request](w, r)
		if err != nil {
			return
		}

		if data.RefreshToken != "" {
			authService.Logout(r.Context(), data.RefreshToken)
		}

		render.JSON(w, response{Message: "Logged out"})
	})
}

func handleLogoutAll(authService authService, errs errorWriter) http.Handler {
	type response struct {
		Revoked int64 `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := userctx.FromContext(r.Context())
		if !ok {
			errs.write(w, r, errors.New("user not found in request context"))
			return
		}

		count, err := authService.LogoutAll(r.Context(), u.ID)
		if err != nil {
			errs.write(w, r, err)
			return
		}

		render.JSON(w, response{Revoked: count})
	})
}

func handleMe() http.Handler {
	type response struct {
		User      models.PublicUser `json:"user"`
		TokenRole models.Role       `json:"token_role"`
		ExpiresAt time.Time         `json:"token_expires_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := userctx.FromContext(r.Context())
		claims, _ := userctx.ClaimsFromContext(r.Context())

		render.JSON(w, response{User: u.Public(), TokenRole: claims.Role, ExpiresAt: claims.ExpiresAt})
	})
}

func handleChangePassword(authService authService, errs errorWriter) http.Handler {
	type request struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := userctx.FromContext(r.Context())
		if !ok {
			errs.write(w, r, errors.New("user not found in request context"))
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		err = authService.ChangePassword(r.Context(), u.ID, data.CurrentPassword, data.NewPassword)
		if err != nil {
			errs.write(w, r, err)
			return
		}

		render.JSON(w, response{Message: "Password changed, log in again"})
	})
}
