package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/labtrack/internal/apperrors"
)

const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	InternalErrorType   = "internal_error"
)

var validate = validator.New()

func init() {
	configureValidator(validate)
}

type Struct any

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	JSONWithStatus(w, data, http.StatusOK)
}

// Render error of the given kind
func Error(w http.ResponseWriter, kind string, message string, code int) {
	response := ErrorResponse{
		Error:   kind,
		Message: message,
	}

	JSONWithStatus(w, response, code)
}

// How an error is shown to client
type Kind struct {
	Name    string
	Message string
	Status  int
}

var internalKind = Kind{InternalErrorType, "Internal server error", http.StatusInternalServerError}

// Classify maps well known errors to client facing kind
// Every access token failure looks the same for client, the cause is for logs only
func Classify(err error) Kind {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return Kind{"invalid_credentials", "Invalid username or password", http.StatusUnauthorized}
	case errors.Is(err, apperrors.ErrAccountDeactivated):
		return Kind{"account_deactivated", "Account is deactivated", http.StatusUnauthorized}
	case errors.Is(err, apperrors.ErrMissingCredential):
		return Kind{"missing_credential", "Authentication credentials were not provided", http.StatusUnauthorized}
	case errors.Is(err, apperrors.ErrInvalidSignature),
		errors.Is(err, apperrors.ErrTokenExpired),
		errors.Is(err, apperrors.ErrWrongTokenType):
		return Kind{"invalid_token", "Invalid or expired token", http.StatusUnauthorized}
	case errors.Is(err, apperrors.ErrInvalidRefreshToken):
		return Kind{"invalid_refresh_token", "Invalid or expired refresh token", http.StatusUnauthorized}
	case errors.Is(err, apperrors.ErrForbidden):
		return Kind{"forbidden", "You do not have permission to perform this action", http.StatusForbidden}
	case errors.Is(err, apperrors.ErrUserNotFound):
		return Kind{"user_not_found", "User not found", http.StatusUnauthorized}
	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		return Kind{"user_exists", "User with this username or email already exists", http.StatusConflict}
	case errors.Is(err, apperrors.ErrInvalidRole):
		return Kind{ValidationErrorType, "Unknown role", http.StatusBadRequest}
	case errors.Is(err, apperrors.ErrInvalidUsername):
		return Kind{ValidationErrorType, "Username must not contain '@'", http.StatusBadRequest}
	default:
		return internalKind
	}
}

// Render error as its kind
// Raw error text of internal errors is shown only if debug is set
func AppError(w http.ResponseWriter, err error, debug bool) Kind {
	kind := Classify(err)

	response := ErrorResponse{
		Error:   kind.Name,
		Message: kind.Message,
	}
	if debug && kind == internalKind {
		response.Detail = err.Error()
	}

	JSONWithStatus(w, response, kind.Status)
	return kind
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, err error) {
	response := ErrorResponse{
		Error:   DecodingErrorType,
		Message: "",
	}

	// Try to provide more specific error message based on error type
	switch err := err.(type) {
	case *json.UnmarshalTypeError:
		response.Message = fmt.Sprintf("Invalid data type for field '%s'", err.Field)
	default:
		response.Message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	JSONWithStatus(w, response, http.StatusBadRequest)
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))

	// Create user-friendly error messages based on validation tag
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "This field is required"
		case "min":
			message = fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		case "email":
			message = "Enter a valid email address"
		case "role":
			message = "Unknown role"
		case "excludes":
			message = fmt.Sprintf("Must not contain '%s'", fieldError.Param())
		default:
			message = "Invalid value"
		}

		fields[fieldError.Field()] = message
	}

	FieldErrors(w, fields)
}

// Render validation failure for fields that are checked by hand, e.g. path or query params
func FieldErrors(w http.ResponseWriter, fields map[string]string) {
	response := ErrorResponse{
		Error:   ValidationErrorType,
		Message: "Request validation failed",
		Fields:  fields,
	}

	JSONWithStatus(w, response, http.StatusBadRequest)
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	return bind[T](w, r, false)
}

// Same as BindAndValidate but empty body is treated as empty JSON object
func BindAndValidateOptional[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	return bind[T](w, r, true)
}

func bind[T Struct](w http.ResponseWriter, r *http.Request, allowEmpty bool) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		DecodeError(w, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		// pretty sure cast will be ok cause expecting T is valid struct
		errs := err.(validator.ValidationErrors)
		ValidationErrors(w, errs)
		return value, err
	}

	return value, nil
}

// JSONWithStatus sends data as json and enforces status code
func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
