// Package warpcast is a small HTTP client for the Warpcast API: identity
// lookups by verified address, the authenticated user, and direct casts.
//
// Reads authenticate with the access token, direct casts with the API key.
// Direct casts are throttled client-side by a token bucket.
package warpcast
