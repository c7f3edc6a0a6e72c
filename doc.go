// Package authgate is an email and password front-end over a pluggable
// CredentialService.
//
// Session gate:
//   - SessionGate subscribes to the credential service and mirrors every
//     session event into a SessionStore. The store only moves forward from
//     unknown, so readers never see a loading screen once a session is known.
//   - SelectStack maps the current SessionState onto the screens a visitor may
//     reach: the loading placeholder, the unauthenticated stack (login, signup,
//     password reset) or the authenticated stack (home).
//
// Forms:
//   - Form drives one submission at a time through validation, the provider
//     call and error mapping. NewLoginForm, NewSignupForm and
//     NewPasswordResetForm bind it to the credential service with the field
//     rules and provider error messages of each screen.
//   - Provider failures surface as *ProviderError values carrying a
//     ProviderErrorCode; side channel failures (verification mail, sign out
//     after signup) are recorded but never fail the submit.
//
// Presentation:
//   - LocaleSelector resolves the display language from the stored preference
//     or the device locale and translates keys through go-i18n bundles.
//   - ThemeSelector tracks light and dark mode and exposes the active Palette.
//   - RegisterAppRoutes mounts the screens on a go-router Router.
//
// Activity sinks:
//   - ActivitySink receives session transitions and form outcomes. Sinks run
//     best-effort, errors are logged, so you can forward to a database or
//     queue without blocking a submission.
package authgate
