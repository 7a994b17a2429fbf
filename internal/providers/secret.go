package providers

import "errors"

// ErrSecretUnavailable is returned when a deferred secret cannot be resolved.
var ErrSecretUnavailable = errors.New("secret unavailable")

// Secret resolves an API credential at call time. A deferred implementation
// lets rotated keys take effect without rebuilding clients.
type Secret interface {
	Get() (string, error)
}

// StaticSecret is a credential known at construction time.
type StaticSecret string

func (s StaticSecret) Get() (string, error) {
	if s == "" {
		return "", ErrSecretUnavailable
	}
	return string(s), nil
}

// DeferredSecret resolves a credential on every call.
type DeferredSecret func() (string, error)

func (d DeferredSecret) Get() (string, error) {
	if d == nil {
		return "", ErrSecretUnavailable
	}
	return d()
}
