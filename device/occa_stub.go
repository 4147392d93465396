//go:build !occa

package device

import (
	"fmt"
)

func newOCCA(properties string) (Device, error) {
	return nil, fmt.Errorf("%w: built without the occa tag (properties %s)", ErrUnsupportedMode, properties)
}
