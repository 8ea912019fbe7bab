package validator

import (
	"errors"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// AcademicYearTag is the struct tag checked by ValidateAcademicYearField
const AcademicYearTag = "academic_year"

// ErrEngineUnavailable indicates gin is not using go-playground/validator
var ErrEngineUnavailable = errors.New("gin binding engine is not a *validator.Validate")

// academicYearRegex matches an academic year key such as 2025/2026
var academicYearRegex = regexp.MustCompile(`^\d{4}/\d{4}$`)

var (
	registerOnce sync.Once
	registerErr  error
)

// IsAcademicYear reports whether year is a well-formed "YYYY/YYYY" key
func IsAcademicYear(year string) bool {
	return academicYearRegex.MatchString(year)
}

// ValidateAcademicYearField is the validator.Func behind the academic_year tag
func ValidateAcademicYearField(fl validator.FieldLevel) bool {
	return IsAcademicYear(fl.Field().String())
}

// Register installs the custom tags on gin's binding validator. Safe to call
// more than once.
func Register() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = ErrEngineUnavailable
			return
		}
		registerErr = RegisterOn(v)
	})
	return registerErr
}

// RegisterOn installs the custom tags on v
func RegisterOn(v *validator.Validate) error {
	return v.RegisterValidation(AcademicYearTag, ValidateAcademicYearField)
}
