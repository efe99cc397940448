// Package verify implements the Evacom link flow: a short-lived
// challenge–response session that ends with the platform granting the
// authorized capability to a user.
//
// A user asks for an ACCESS KEY (Link), types it into the game's Service
// Console, receives an Evacom ID, and submits it back (Verify). Codes are
// derived from the session nonce and the process secret (see
// security/challenge) and are never stored.
//
// Sessions are memory-only. The chat platform is reached through the
// Capabilities interface and is never called while a session lock is held.
package verify
