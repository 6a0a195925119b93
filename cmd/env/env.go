package env

const (
	// Prefix is the env var prefix shared by all commands
	Prefix = "P2PQUOTES"

	DBURLSuffix    = "_DB_URL"    // PostgreSQL DSN
	RedisURLSuffix = "_REDIS_URL" // redis://, optional
)

// DBURL is the name of the DSN env var
func DBURL() string {
	return Prefix + DBURLSuffix
}

// RedisURL is the name of the Redis URL env var
func RedisURL() string {
	return Prefix + RedisURLSuffix
}
