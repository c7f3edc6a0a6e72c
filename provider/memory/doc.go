// Package memory provides an in-process CredentialService for development
// and tests.
//
// The provider mirrors hosted identity provider behavior the session gate
// depends on: Subscribe replays the current session, SignUp signs the new
// account in, and failed sign in attempts are throttled. Dispatched emails
// are kept in an outbox so tests can redeem their tickets, and FailNext
// injects provider errors per operation.
package memory
