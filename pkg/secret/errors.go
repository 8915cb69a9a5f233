package secret

import "github.com/pkg/errors"

var ErrReleased = errors.New("secret buffer already released")
