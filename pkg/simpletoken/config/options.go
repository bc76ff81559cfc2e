package config

import "time"

// WithDatabase sets the database URL and derives the database type from it.
func WithDatabase(databaseURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = databaseURL
		return applyDatabaseURL(c)
	}
}

// WithCredentials sets the provider access key id and secret key.
func WithCredentials(accessKeyID, secretKey string) Option {
	return func(c *ServerConfig) error {
		c.AccessKeyID = accessKeyID
		c.SecretKey = secretKey
		return nil
	}
}

// WithBucket sets the bucket and its upload/download domains.
func WithBucket(bucket, uploadDomain, downloadDomain string) Option {
	return func(c *ServerConfig) error {
		c.Bucket = bucket
		c.UploadDomain = uploadDomain
		c.DownloadDomain = downloadDomain
		return nil
	}
}

// WithTTL sets the default and maximum token lifetimes.
func WithTTL(defaultTTL, maxTTL time.Duration) Option {
	return func(c *ServerConfig) error {
		c.DefaultTTL = defaultTTL
		c.MaxTTL = maxTTL
		return nil
	}
}

// WithJWTSecret authenticates callers with HMAC-signed bearer tokens.
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}

// WithPort sets the HTTP listen port.
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}
