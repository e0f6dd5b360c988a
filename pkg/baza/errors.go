package baza

import (
	"fmt"

	"github.com/mbme/baza/pkg/bazaerr"
)

func bazaClosedErr() error {
	return fmt.Errorf("baza: %w", bazaerr.ErrClosed)
}
