package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"resortwala/internal/domain"
)

var mobileRegex = regexp.MustCompile(`^\+?\d{10,15}$`)

// CreateBookingRequest is the customer input for a new booking.
type CreateBookingRequest struct {
	PropertyID     int64  `json:"property_id" validate:"required,gt=0"`
	CustomerID     int64  `json:"customer_id" validate:"gte=0"`
	CustomerName   string `json:"customer_name" validate:"required,max=255"`
	CustomerEmail  string `json:"customer_email" validate:"omitempty,email"`
	CustomerMobile string `json:"customer_mobile" validate:"required,mobile"`
	CheckIn        string `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut       string `json:"check_out" validate:"required,datetime=2006-01-02"`
	GuestCount     int    `json:"guest_count" validate:"required,gte=1"`
	Comment        string `json:"comment" validate:"max=1000"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	// ошибка регистрации возможна только при пустом теге
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return mobileRegex.MatchString(fl.Field().String())
	})
	return v
}

func validateStruct(v *validator.Validate, s interface{}) error {
	if err := v.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func translateValidationErrors(errs validator.ValidationErrors) domain.ValidationErrors {
	var out domain.ValidationErrors
	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min", "gte":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", err.Field())
		case "mobile":
			message = fmt.Sprintf("%s must be 10 to 15 digits", err.Field())
		case "datetime":
			message = fmt.Sprintf("%s must be a date in YYYY-MM-DD format", err.Field())
		}

		out = append(out, domain.ValidationError{Field: err.Field(), Message: message})
	}
	return out
}
