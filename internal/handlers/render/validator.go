package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/labtrack/internal/models"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("role", validateRole)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Field holds one of known roles
func validateRole(fl validator.FieldLevel) bool {
	return models.Role(fl.Field().String()).Valid()
}
