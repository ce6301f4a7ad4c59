// Package authkit is an embeddable authentication and account-security
// layer: password and magic-link sign-in, email verification, password
// reset, TOTP/email-OTP/backup-code second factors, trusted devices and
// Redis-backed sessions, with a net/http route guard in the middleware
// subpackage.
//
// The host application supplies principal storage (CredentialStore), an
// outbound mail transport (Mailer) and a Redis client; the engine owns
// the flows, challenges, rate limits and session lifecycle.
//
//	engine, err := authkit.New().
//		WithRedis(rdb).
//		WithCredentialStore(store).
//		WithMailer(mailer).
//		Build()
package authkit
