//go:build atmi

package backend

import (
	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/accel/atmi"
)

const atmiEnabled = true

func newATMI() (accel.Runtime, error) {
	return atmi.New(), nil
}
