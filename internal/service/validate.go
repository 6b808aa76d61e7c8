package service

import (
	"errors"
	"strings"

	"marketplace-orders/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateRequest checks struct tags and converts failures into a
// validation error listing the offending fields.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}

	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	return apperr.Validation("invalid fields: "+strings.Join(names, ", ")).WithDetail("fields", fields)
}
