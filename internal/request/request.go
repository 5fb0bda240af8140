package request

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/stone-age-io/remediator/internal/errors"
	"github.com/stone-age-io/remediator/internal/platform"
	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/tidwall/gjson"
)

// Request is one parsed remediation invocation
type Request struct {
	Action  string `json:"action" validate:"required,oneof=vpn_restart vpn_status check_network"`
	Service string `json:"service" validate:"required,max=128,servicename"`
	Config  string `json:"config,omitempty" validate:"omitempty,max=128,servicename"`
}

// Keys read from the parameter blob, in lookup order; the vpn_ forms are legacy aliases
var (
	serviceKeys = []string{"service", "vpn_service"}
	configKeys  = []string{"config", "vpn_config"}
)

// serviceNamePattern allows the characters seen in systemd units, SCM service
// names and scutil configuration names, and nothing a shell would interpret.
// A leading dash would be read as an option.
var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._@-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("servicename", func(fl validator.FieldLevel) bool {
		return serviceNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Parse reads a JSON parameter blob. A missing or blank action defaults to
// vpn_restart and a missing service to "auto".
func Parse(raw string) (*Request, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.NewValidationError("missing parameters", nil)
	}
	if !gjson.Valid(raw) {
		return nil, errors.NewValidationError("parameters are not valid JSON", nil)
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, errors.NewValidationError("parameters must be a JSON object", nil)
	}

	req := &Request{
		Action:  strings.TrimSpace(doc.Get("action").String()),
		Service: firstString(doc, serviceKeys),
		Config:  firstString(doc, configKeys),
	}
	if req.Action == "" {
		req.Action = remediation.ActionRestart
	}
	if req.Service == "" {
		req.Service = platform.AutoService
	}

	if err := validate.Struct(req); err != nil {
		return nil, errors.NewValidationError(formatValidationErrors(err), nil).
			WithContext("action", req.Action)
	}

	return req, nil
}

func firstString(doc gjson.Result, keys []string) string {
	for _, key := range keys {
		if v := doc.Get(key); v.Exists() && v.Type != gjson.Null {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func formatValidationErrors(err error) string {
	var messages []string

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			field := strings.ToLower(fieldError.Field())
			switch fieldError.Tag() {
			case "required":
				messages = append(messages, field+" is required")
			case "oneof":
				messages = append(messages, "unknown "+field+" "+quote(fieldError.Value())+" (supported: "+strings.ReplaceAll(fieldError.Param(), " ", ", ")+")")
			case "max":
				messages = append(messages, field+" must be at most "+fieldError.Param()+" characters")
			case "servicename":
				messages = append(messages, field+" contains invalid characters")
			default:
				messages = append(messages, field+" is invalid")
			}
		}
	}

	if len(messages) == 0 {
		return err.Error()
	}
	return strings.Join(messages, "; ")
}

func quote(v interface{}) string {
	s, _ := v.(string)
	return `"` + s + `"`
}
