package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/handlers/render"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

const (
	NotFoundErrorType = "not_found"

	maxListLimit = 100
)

// Users looked up by id are not a session problem, so missing user is 404 here
func (e errorWriter) writeUserError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, apperrors.ErrUserNotFound) {
		render.Error(w, NotFoundErrorType, "User not found", http.StatusNotFound)
		return
	}
	e.write(w, r, err)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.FieldErrors(w, map[string]string{"id": "Invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

func handleListUsers(userService userService, errs errorWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		fields := make(map[string]string)
		opts := repository.ListUsersOpts{Role: models.Role(query.Get("role"))}

		if opts.Role != "" && !opts.Role.Valid() {
			fields["role"] = "Unknown role"
		}
		if v := query.Get("active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				fields["active"] = "Must be true or false"
			}
			opts.Active = &active
		}
		if v := query.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 || limit > maxListLimit {
				fields["limit"] = "Must be a number from 1 to " + strconv.Itoa(maxListLimit)
			}
			opts.Limit = limit
		}
		if v := query.Get("offset"); v != "" {
			offset, err := strconv.Atoi(v)
			if err != nil || offset < 0 {
				fields["offset"] = "Must be a non negative number"
			}
			opts.Offset = offset
		}

		if len(fields) > 0 {
			render.FieldErrors(w, fields)
			return
		}

		users, err := userService.ListUsers(r.Context(), opts)
		if err != nil {
			errs.write(w, r, err)
			return
		}

		response := make([]models.PublicUser, 0, len(users))
		for _, u := range users {
			response = append(response, u.Public())
		}
		render.JSON(w, response)
	})
}

func handleCreateUser(userService userService, errs errorWriter) http.Handler {
	type request struct {
		Username  string `json:"username" validate:"required,min=3,max=150,excludes=@"`
		Email     string `json:"email" validate:"required,email,max=254"`
		Password  string `json:"password" validate:"required,min=8,max=128"`
		FirstName string `json:"first_name" validate:"max=150"`
		LastName  string `json:"last_name" validate:"max=150"`
		Role      string `json:"role" validate:"required,role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := userService.CreateUser(r.Context(), user.CreateUserParams{
			Username:  data.Username,
			Email:     data.Email,
			Password:  data.Password,
			FirstName: data.FirstName,
			LastName:  data.LastName,
			Role:      models.Role(data.Role),
		})
		if err != nil {
			errs.write(w, r, err)
			return
		}

		render.JSONWithStatus(w, u.Public(), http.StatusCreated)
	})
}

func handleGetUser(userService userService, errs errorWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUserID(w, r)
		if !ok {
			return
		}

		u, err := userService.GetUserByID(r.Context(), id)
		if err != nil {
			errs.writeUserError(w, r, err)
			return
		}

		render.JSON(w, u.Public())
	})
}

func handleSetRole(userService userService, errs errorWriter) http.Handler {
	type request struct {
		Role string `json:"role" validate:"required,role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUserID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := userService.SetRole(r.Context(), id, models.Role(data.Role))
		if err != nil {
			errs.writeUserError(w, r, err)
			return
		}

		render.JSON(w, u.Public())
	})
}

// Deactivation also ends every session of the user
func handleSetActive(userService userService, errs errorWriter) http.Handler {
	type request struct {
		Active *bool `json:"active" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUserID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		u, err := userService.SetActive(r.Context(), id, *data.Active)
		if err != nil {
			errs.writeUserError(w, r, err)
			return
		}

		render.JSON(w, u.Public())
	})
}
