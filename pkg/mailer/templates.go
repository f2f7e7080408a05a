package mailer

import (
	"fmt"
	"net/url"
)

// VerificationEmail returns the subject and body of the account verification mail
func VerificationEmail(baseURL, firstName, token string) (string, string) {
	link := fmt.Sprintf("%s/api/v1/auth/verify/%s", baseURL, url.PathEscape(token))
	body := fmt.Sprintf("Hi %s,\n\nPlease confirm your Mule Mart account by opening the link below:\n%s\n\nThe link expires in 24 hours.\n", firstName, link)
	return "Verify your Mule Mart account", body
}

// PasswordResetEmail returns the subject and body of the password reset mail
func PasswordResetEmail(baseURL, firstName, token string) (string, string) {
	link := fmt.Sprintf("%s/reset-password?token=%s", baseURL, url.QueryEscape(token))
	body := fmt.Sprintf("Hi %s,\n\nA password reset was requested for your Mule Mart account. Use the link below to choose a new password:\n%s\n\nThe link expires in one hour. If you did not ask for this, ignore this email.\n", firstName, link)
	return "Reset your Mule Mart password", body
}
