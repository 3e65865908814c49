package httpserver

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New(validator.WithRequiredStructEnabled())
		vld.RegisterTagNameFunc(jsonFieldName)
		vld.RegisterStructValidation(productRules, domain.Product{})
	})
	return vld
}

// productRules adds checks the struct tags cannot express.
func productRules(sl validator.StructLevel) {
	p := sl.Current().Interface().(domain.Product)
	if math.IsInf(p.Price, 0) || math.IsNaN(p.Price) {
		sl.ReportError(p.Price, "price", "Price", "finite", "")
	}
	if strings.TrimSpace(p.Name) == "" {
		sl.ReportError(p.Name, "name", "Name", "notblank", "")
	}
}

// ValidateAnalysisRequest returns one entry per invalid field, or nil.
func ValidateAnalysisRequest(req domain.AnalysisRequest) []ValidationError {
	err := getValidator().Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []ValidationError{{Field: "body", Code: "INVALID", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(ve))
	for _, fe := range ve {
		field := strings.TrimPrefix(fe.Namespace(), "AnalysisRequest.")
		out = append(out, ValidationError{
			Field:   field,
			Code:    strings.ToUpper(fe.Tag()),
			Message: validationMessage(fe),
		})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "finite":
		return "must be a finite number"
	default:
		return "is invalid"
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
