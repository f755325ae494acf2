package templates

import "go.uber.org/zap"

type config struct {
	logger *zap.Logger
}

func defaultConfig() config {
	return config{
		logger: zap.NewNop(),
	}
}

// Option configures a Provider.
type Option func(*config)

// WithLogger sets the logger used for release warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
