package validate

import (
	"github.com/go-playground/validator/v10"

	"github.com/example/roadassist/internal/models"
)

var v *validator.Validate

func init() {
	v = validator.New()
	_ = v.RegisterValidation("lat", func(fl validator.FieldLevel) bool {
		lat := fl.Field().Float()
		return lat >= -90 && lat <= 90
	})
	_ = v.RegisterValidation("lng", func(fl validator.FieldLevel) bool {
		lng := fl.Field().Float()
		return lng >= -180 && lng <= 180
	})
	_ = v.RegisterValidation("servicetype", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseServiceType(fl.Field().String())
		return ok
	})
}

// Struct validates tagged request payloads.
func Struct(s interface{}) error {
	return v.Struct(s)
}
