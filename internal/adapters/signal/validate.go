package signal

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type payloadValidator struct {
	validate *validator.Validate
}

func newPayloadValidator() *payloadValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &payloadValidator{validate: v}
}

// Check returns nil when p passes its struct tags, otherwise one error per
// failing field joined together.
func (v *payloadValidator) Check(p any) error {
	err := v.validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Errorf("%s is required", fe.Field()))
		case "max":
			out = append(out, fmt.Errorf("%s must not exceed %s characters", fe.Field(), fe.Param()))
		default:
			out = append(out, fmt.Errorf("%s is invalid", fe.Field()))
		}
	}
	return errors.Join(out...)
}
