package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config         *Config
	refreshOnStart bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRefreshOnStart refreshes every cache once the server is up.
func WithRefreshOnStart(enabled bool) Option {
	return func(a *application) {
		a.refreshOnStart = enabled
	}
}
