// Package cli builds the privacyflow command tree with cobra, translates
// flags into the application configuration and maps failures onto process
// exit codes: 2 for usage and validation errors, 1 for runtime failures.
package cli
