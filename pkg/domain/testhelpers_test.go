package domain

import "errors"

// asError wraps errors.As so assertions on typed errors stay on one line.
func asError[T error](err error, target *T) bool {
	return errors.As(err, target)
}
