// Package mailtemplate renders the OTP email body from an HTML template
// containing the literal placeholder "{{ otp }}".
package mailtemplate

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/cuongbtq/otp-delivery/internal/domain"
)

// Placeholder is replaced with the OTP on every render.
const Placeholder = "{{ otp }}"

//go:embed templates/otp_template.html
var defaultTemplate string

// Renderer holds a template body loaded once at startup.
type Renderer struct {
	body      string
	otpLength int
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithOTPLength requires rendered OTPs to have exactly n digits.
func WithOTPLength(n int) Option {
	return func(r *Renderer) {
		r.otpLength = n
	}
}

// New builds a Renderer from an in-memory template body.
func New(body string, opts ...Option) (*Renderer, error) {
	if !strings.Contains(body, Placeholder) {
		return nil, fmt.Errorf("%w: template does not contain %q", domain.ErrTemplate, Placeholder)
	}

	r := &Renderer{body: body, otpLength: domain.DefaultOTPLength}
	for _, opt := range opts {
		opt(r)
	}

	if r.otpLength < domain.MinOTPLength || r.otpLength > domain.MaxOTPLength {
		return nil, fmt.Errorf("%w: otp length %d out of range [%d, %d]",
			domain.ErrTemplate, r.otpLength, domain.MinOTPLength, domain.MaxOTPLength)
	}

	return r, nil
}

// Load reads the template at path. An empty path selects the built-in template.
func Load(path string, opts ...Option) (*Renderer, error) {
	if path == "" {
		return New(defaultTemplate, opts...)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read template %s: %w", domain.ErrTemplate, path, err)
	}

	return New(string(body), opts...)
}

// Render substitutes every placeholder occurrence with otp.
// Content outside the placeholders is returned unchanged.
func (r *Renderer) Render(otp string) (string, error) {
	if err := r.validateOTP(otp); err != nil {
		return "", err
	}
	return strings.ReplaceAll(r.body, Placeholder, html.EscapeString(otp)), nil
}

func (r *Renderer) validateOTP(otp string) error {
	if len(otp) != r.otpLength {
		return fmt.Errorf("%w: otp must be %d digits, got %d characters", domain.ErrTemplate, r.otpLength, len(otp))
	}
	for _, c := range otp {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: otp must contain only digits", domain.ErrTemplate)
		}
	}
	return nil
}

// RenderFile loads the template at path and renders otp in one step.
func RenderFile(path, otp string, opts ...Option) (string, error) {
	r, err := Load(path, opts...)
	if err != nil {
		return "", err
	}
	return r.Render(otp)
}
