package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// License failure sentinels. Every license validation failure wraps exactly
// one of these so callers can branch with errors.Is.
var (
	ErrLicenseIO       = errors.New("license file unreadable")
	ErrLicenseCorrupt  = errors.New("license corrupt")
	ErrLicenseTampered = errors.New("license tampered")
	ErrLicenseExpired  = errors.New("license expired")
	ErrMachineMismatch = errors.New("license issued to a different machine")

	// ErrLicenseRequired is returned by gated features when no valid
	// license was established at startup.
	ErrLicenseRequired = errors.New("license required")
)

// LicenseDetails provides additional context for license problems
type LicenseDetails struct {
	IssuedTo   string     `json:"issued_to,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	MachineID  string     `json:"machine_id,omitempty"`
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

type licenseProblem struct {
	sentinel  error
	status    int
	typ       string
	title     string
	detail    string
	errorType string
}

var licenseProblems = []licenseProblem{
	{ErrLicenseIO, http.StatusNotFound, TypeLicenseNotFound, "License Not Found",
		"No readable license file was found. Activate a license to enable automation.", "not_found"},
	{ErrLicenseCorrupt, http.StatusUnprocessableEntity, TypeLicenseCorrupt, "License Corrupt",
		"The license file could not be decrypted or parsed.", "corrupt"},
	{ErrLicenseTampered, http.StatusForbidden, TypeLicenseTampered, "License Tampered",
		"The license signature does not match its contents.", "tampered"},
	{ErrLicenseExpired, http.StatusForbidden, TypeLicenseExpired, "License Expired",
		"The license has expired. Please renew to continue.", "expired"},
	{ErrMachineMismatch, http.StatusForbidden, TypeLicenseMismatch, "Machine Mismatch",
		"This license is registered to a different machine.", "machine_mismatch"},
	{ErrLicenseRequired, http.StatusPreconditionRequired, TypeLicenseRequired, "License Required",
		"Automation features require a valid license.", "license_required"},
}

// NewLicenseProblem maps a license failure to problem details. Errors that
// do not wrap a license sentinel map to an internal error.
func NewLicenseProblem(err error, instance, traceID string) *ProblemDetails {
	for _, lp := range licenseProblems {
		if errors.Is(err, lp.sentinel) {
			return NewProblemDetails(lp.status, lp.typ, lp.title, lp.detail, instance).
				WithExtension("error_type", lp.errorType).
				WithExtension("trace_id", traceID)
		}
	}

	detail := "License validation failed unexpectedly"
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	return NewProblemDetails(http.StatusInternalServerError, TypeInternal, "Internal Server Error", detail, instance).
		WithExtension("trace_id", traceID)
}

// WithLicenseDetails attaches record details to a license problem
func (pd *ProblemDetails) WithLicenseDetails(details *LicenseDetails) *ProblemDetails {
	if details == nil {
		return pd
	}
	if details.IssuedTo != "" {
		pd.WithExtension("issued_to", details.IssuedTo)
	}
	if details.ExpiryDate != nil {
		pd.WithExtension("expiry_date", details.ExpiryDate.Format("2006-01-02"))
	}
	if details.MachineID != "" {
		pd.WithExtension("machine_id", details.MachineID)
	}
	return pd
}

// IsLicenseError reports whether err wraps any license sentinel
func IsLicenseError(err error) bool {
	for _, lp := range licenseProblems {
		if errors.Is(err, lp.sentinel) {
			return true
		}
	}
	return false
}
