package registration

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConfig matches every *ConfigError with errors.Is
var ErrConfig = errors.New("invalid registration configuration")

// ConfigError reports a configuration value the driver cannot run with. It is
// always returned before any image is read or allocated.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Is lets errors.Is(err, ErrConfig) match any ConfigError
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func configErrorf(format string, a ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}
