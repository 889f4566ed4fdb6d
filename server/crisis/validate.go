package crisis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// requestValidate is the shared validator for request payloads.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()

	// Report JSON field names rather than Go field names
	requestValidate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// CreateAlertRequest is the payload for submitting a new alert.
type CreateAlertRequest struct {
	Type        AlertType  `json:"type" validate:"required,oneof=violence arrest medical checkpoint safe_zone danger_zone internet_shutdown other"`
	Severity    Severity   `json:"severity" validate:"required,oneof=low medium high critical"`
	Location    Location   `json:"location"`
	Description string     `json:"description" validate:"required,min=10,max=500"`
	Visibility  Visibility `json:"visibility" validate:"omitempty,oneof=public verified_only private"`
}

// Normalize trims free text and fills defaults. Call before Validate.
func (r *CreateAlertRequest) Normalize() {
	r.Description = strings.TrimSpace(r.Description)
	if r.Visibility == "" {
		r.Visibility = VisibilityPublic
	}
}

// Validate checks the request against its field rules.
func (r *CreateAlertRequest) Validate() error {
	return validateStruct(r)
}

// VerificationPayload is a voter's submission for one alert.
type VerificationPayload struct {
	VerificationType VerificationType `json:"verificationType" validate:"required,oneof=confirm deny update"`
	Confidence       Confidence       `json:"confidence" validate:"omitempty,oneof=low medium high"`
	AdditionalInfo   string           `json:"additionalInfo" validate:"max=200"`
	LocationAtTime   *Location        `json:"locationAtTime,omitempty" validate:"omitempty"`
}

// Normalize trims free text and fills defaults. Call before Validate.
func (p *VerificationPayload) Normalize() {
	p.AdditionalInfo = strings.TrimSpace(p.AdditionalInfo)
	if p.Confidence == "" {
		p.Confidence = ConfidenceMedium
	}
}

// Validate checks the payload against its field rules.
func (p *VerificationPayload) Validate() error {
	return validateStruct(p)
}

// CreateSOSRequest is the payload for raising an SOS.
type CreateSOSRequest struct {
	EmergencyType     EmergencyType `json:"emergencyType" validate:"required,oneof=violence_immediate medical_emergency arrest_in_progress trapped_location life_threatening"`
	Location          Location      `json:"location"`
	Details           SOSDetails    `json:"details"`
	BroadcastRadiusKm int           `json:"broadcastRadius" validate:"omitempty,min=1,max=50"`
}

// Normalize fills defaults. Call before Validate.
func (r *CreateSOSRequest) Normalize() {
	if r.BroadcastRadiusKm == 0 {
		r.BroadcastRadiusKm = DefaultSOSBroadcastRadiusKm
	}
}

// Validate checks the request against its field rules.
func (r *CreateSOSRequest) Validate() error {
	return validateStruct(r)
}

// RespondSOSRequest is the payload for answering an SOS.
type RespondSOSRequest struct {
	ResponseType   string `json:"responseType" validate:"required,max=50"`
	AdditionalInfo string `json:"additionalInfo" validate:"max=200"`
}

// Validate checks the request against its field rules.
func (r *RespondSOSRequest) Validate() error {
	return validateStruct(r)
}

// UpdateSOSStatusRequest is the payload for changing an SOS status.
type UpdateSOSStatusRequest struct {
	Status SOSStatus `json:"status" validate:"required,oneof=active resolved cancelled"`
}

// Validate checks the request against its field rules.
func (r *UpdateSOSStatusRequest) Validate() error {
	return validateStruct(r)
}

// ValidateID checks that an alert or SOS identifier is a UUID v4.
func ValidateID(field, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return NewValidationError(field, "invalid UUID format")
	}

	if parsed.Version() != 4 {
		return NewValidationError(field, fmt.Sprintf("must be a UUID v4 (got version %d)", parsed.Version()))
	}

	return nil
}

// NewID generates a new random identifier.
func NewID() string {
	return uuid.NewString()
}

// validateStruct runs the shared validator and converts its errors into a *ValidationError.
func validateStruct(s any) error {
	err := requestValidate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return NewValidationError("request", err.Error())
	}

	result := &ValidationError{}
	for _, fe := range validationErrs {
		result.Fields = append(result.Fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: ruleMessage(fe),
		})
	}
	return result
}

// fieldPath strips the struct name from a validator namespace.
// "CreateAlertRequest.location.latitude" -> "location.latitude"
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

// ruleMessage renders a readable message for a failed rule.
func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed '%s' rule", fe.Tag())
	}
}
