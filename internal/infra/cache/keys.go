package cache

import "fmt"

// Cache key builders. Every key the service writes goes through one of these,
// keeping the keyspace enumerable: user:*, token:*, session:*, otp:*, lock:*,
// ratelimit:*.

// UserKey caches the user snapshot by internal user ID.
func UserKey(userID string) string {
	return "user:" + userID
}

// UserPhoneKey caches the user snapshot by phone number.
func UserPhoneKey(phone string) string {
	return "user:phone:" + phone
}

// UserIdentityKey caches the user snapshot by identity provider user ID.
func UserIdentityKey(identityID string) string {
	return "user:identity:" + identityID
}

// DecodedTokenKey caches verified access token claims by token hash.
func DecodedTokenKey(tokenHash string) string {
	return "token:" + tokenHash
}

// BlacklistKey marks a revoked access token by token hash.
func BlacklistKey(tokenHash string) string {
	return "token:blacklist:" + tokenHash
}

// SessionKey caches session metadata by session ID.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

// OTPAttemptsKey counts OTP deliveries per phone within the send window.
func OTPAttemptsKey(phone string) string {
	return "otp:attempts:" + phone
}

// OTPLastSentKey marks the most recent OTP delivery for the resend cooldown.
func OTPLastSentKey(phone string) string {
	return "otp:last_sent:" + phone
}

// LockKey namespaces a cross-instance lock for the given cache key.
func LockKey(key string) string {
	return "lock:" + key
}

// RateLimitKey counts requests for a fixed-window limiter.
func RateLimitKey(prefix, ip, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", prefix, ip, subject)
}
