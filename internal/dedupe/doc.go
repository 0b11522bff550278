// Package dedupe provides a bounded TTL cache for suppressing repeated
// keys, used for Matrix event redelivery and auth nonce replay protection.
package dedupe
