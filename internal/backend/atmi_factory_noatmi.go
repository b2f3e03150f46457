//go:build !atmi

package backend

import (
	"errors"

	"github.com/samcharles93/offload/internal/accel"
)

const atmiEnabled = false

var errATMIUnavailable = errors.New("atmi backend is not available in this build")

func newATMI() (accel.Runtime, error) {
	return nil, errATMIUnavailable
}
