package auth

import (
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/validation"
)

// RegisterInput is the registration form.
type RegisterInput struct {
	Name            string `json:"name" validate:"required,min=3,max=100"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// Validate checks the form and that both passwords match.
func (in RegisterInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.ConfirmPassword != "" && in.Password != in.ConfirmPassword {
		errs.Add("confirm_password", "passwords do not match")
	}
	return errs.Err()
}

// LoginInput is the login form. TwoFactorCode is either a TOTP code or a
// backup code.
type LoginInput struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"two_factor_code,omitempty" validate:"omitempty,min=6,max=16"`
}

// Validate checks the login form.
func (in LoginInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}

// RefreshInput carries a refresh token.
type RefreshInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Validate checks the refresh form.
func (in RefreshInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}

// ForgotPasswordInput starts a password reset.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

// Validate checks the forgot password form.
func (in ForgotPasswordInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}

// ResetPasswordInput completes a password reset.
type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required,len=64,hexadecimal"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Validate checks the reset form.
func (in ResetPasswordInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}

// VerifyEmailInput confirms an email address.
type VerifyEmailInput struct {
	Token string `json:"token" validate:"required,len=64,hexadecimal"`
}

// Validate checks the verification form.
func (in VerifyEmailInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}

// ChangePasswordInput replaces the password of a signed in user.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

// Validate checks the form and rejects reusing the current password.
func (in ChangePasswordInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.NewPassword != "" && in.NewPassword == in.CurrentPassword {
		errs.Add("new_password", "must differ from the current password")
	}
	return errs.Err()
}

// TwoFactorCodeInput carries a TOTP code.
type TwoFactorCodeInput struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Validate checks the code form. Callers trim surrounding whitespace first.
func (in TwoFactorCodeInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}
