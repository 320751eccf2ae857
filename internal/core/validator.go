package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"roadmap/internal/types"
)

// Validator wraps go-playground/validator and registers the domain rules.
// Field names in error details use the json tag of the struct field.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom validation tags:
//
//	difficulty    easy|medium|hard, case-insensitive
//	counter_kind  topics|skills
//	notblank      non-empty after trimming whitespace
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("difficulty", func(fl validator.FieldLevel) bool {
		_, ok := types.ParseDifficulty(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("counter_kind", func(fl validator.FieldLevel) bool {
		return types.CounterKind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs the struct tags on s. Field failures are returned as a
// validation AppError with details.fields mapping each field to a message.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]string, len(verrs))
	missing := false
	for _, fe := range verrs {
		fields[fieldPath(fe)] = fieldMessage(fe)
		if fe.Tag() == "required" {
			missing = true
		}
	}

	code := types.ErrCodeValidationInvalidInput
	if missing {
		code = types.ErrCodeValidationMissingField
	}
	return types.NewAppErrorWithDetails(code, "request validation failed", err, map[string]any{
		"fields": fields,
	})
}

// fieldPath drops the top-level struct name from the namespace so nested
// fields read as "tasks[0].difficulty".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url", "http_url":
		return "must be a valid URL"
	case "max":
		return "must be at most " + fe.Param() + " characters or items"
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "difficulty":
		return "must be one of: easy, medium, hard"
	case "counter_kind":
		return "must be one of: topics, skills"
	case "uuid", "uuid4":
		return "must be a valid id"
	default:
		return "is invalid"
	}
}
