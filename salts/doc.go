// Package salts tracks the server salts mixed into payload encryption.
//
// A server hands out salts with validity windows in a future_salts answer.
// The [Manager] keeps the latest answer and selects the salt for a given
// instant. When no window covers the instant it degrades to the salt with
// the latest valid_until and logs the staleness so the session can request
// fresh salts.
package salts
