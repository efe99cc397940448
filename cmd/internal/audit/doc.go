// Package audit records Evacom link/verify lifecycle events.
//
// Events carry the user identifier, an action name, and non-secret metadata.
// Nonces, access keys and response codes are never recorded.
//
// Writes are asynchronous: Recorder.Record only enqueues, and Recorder.Run
// drains the queue into a Store (Postgres or SQLite). This keeps the
// verification core free of blocking I/O.
package audit
