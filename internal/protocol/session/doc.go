// Package session owns bridge session transport helpers.
//
// Ownership boundary:
// - open/open.ack port pairing and close frames
// - meta (chunked JSON document) and data (buffer region) frames
// - timeouts, retry/backoff and TLS policy
// - API callback outbox
package session
