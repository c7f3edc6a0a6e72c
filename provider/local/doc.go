// Package local provides a durable CredentialService backed by Bun.
//
// Accounts, password reset tickets and email verification tickets are
// stored through go-repository-bun repositories. Passwords are bcrypt
// hashed. A signed JWT session token is kept in an authgate.PreferenceStore
// so a restarted process restores the signed in account on its first
// Subscribe, the way a hosted provider restores its cached session.
//
// Out of band flows are finalized with ConfirmEmail and
// ConfirmPasswordReset using the ticket delivered by the Mailer.
package local
