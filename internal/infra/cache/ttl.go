package cache

import "time"

// TTLs for each cached value class. Blacklist entries must outlive the longest
// access token; everything else trades freshness against backend pressure.
const (
	// TTLDecodedToken bounds how long verified claims are served without
	// re-verifying the signature.
	TTLDecodedToken = 10 * time.Minute

	// TTLBlacklist must cover the maximum access token lifetime so a revoked
	// token can never outlive its blacklist entry.
	TTLBlacklist = 7 * 24 * time.Hour

	// TTLSession caches session metadata.
	TTLSession = 30 * time.Minute

	// TTLUserData caches user snapshots.
	TTLUserData = time.Hour

	// TTLShort suits rapidly changing values.
	TTLShort = time.Minute

	// TTLMedium suits values refreshed a few times per hour.
	TTLMedium = 10 * time.Minute

	// TTLLock bounds how long a crashed holder can keep a fetch lock.
	TTLLock = 10 * time.Second
)
