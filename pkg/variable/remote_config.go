package variable

import "time"

// RemoteConfig configures a RemoteProvider.
type RemoteConfig struct {
	BaseURL            string        `env:"VARKIT_BASE_URL,required"`                      // BaseURL is the root of the variables API, e.g. "https://config.example.com".
	APIToken           string        `env:"VARKIT_API_TOKEN"`                              // APIToken is sent as "Authorization: bearer <token>" when non-empty.
	PollInterval       time.Duration `env:"VARKIT_POLL_INTERVAL" envDefault:"30s"`         // PollInterval is both the background polling period and the freshness window.
	FetchTimeout       time.Duration `env:"VARKIT_FETCH_TIMEOUT" envDefault:"10s"`         // FetchTimeout bounds one HTTP fetch attempt.
	RetryAttempts      int           `env:"VARKIT_FETCH_RETRY_ATTEMPTS" envDefault:"2"`    // RetryAttempts is the number of backoff retries after a transient fetch failure.
	BlockFirstResolve  bool          `env:"VARKIT_BLOCK_FIRST_RESOLVE" envDefault:"false"` // BlockFirstResolve makes the first resolution wait for one synchronous fetch.
	CloseTimeout       time.Duration `env:"VARKIT_CLOSE_TIMEOUT" envDefault:"5s"`          // CloseTimeout bounds the wait for the polling worker on Close.
}
