// Package challenge derives the codes used by the Evacom link flow.
//
// Every value is computed from a process-wide secret and a 6-digit nonce:
//   - ACCESS KEY: nonce + 2 check digits from HMAC-SHA256(secret, "CHAL|"+nonce).
//   - Evacom ID (response code): 6 digits from HMAC-SHA256(secret, "RESP|"+nonce).
//
// The two messages use distinct prefixes so the check digits and the response
// code cannot be related to each other without the secret.
//
// Nothing here is stored. Callers keep the nonce and recompute codes on demand.
package challenge
