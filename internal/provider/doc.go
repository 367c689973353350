// Package provider talks to the external video and music generation
// services.
//
// Requests are a closed set of typed variants built through constructors
// that validate their inputs, so malformed payloads never reach the network.
// VideoClient and MusicClient are plain values constructed once from
// configuration and handed to the dispatcher and composer; tests substitute
// the VideoProvider and MusicProvider interfaces.
//
// Every error returned by a client carries one of the services markers:
// ErrValidation for rejected input, ErrPermanentProvider for content policy
// refusals, and ErrTransientProvider for rate limits, 5xx responses and
// network failures.
package provider
