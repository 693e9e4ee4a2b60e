package mixtures

import (
	"errors"
	"fmt"
)

//ErrDidNotConverge is returned when the self-consistency solver exceeds its
//iteration cap before the free energies stabilize.
var ErrDidNotConverge = errors.New("self-consistency solver did not converge")

//InputError reports an invalid sample set or call argument. It is raised at
//mixture construction or at call time, never during iteration.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return "mixtures: " + e.Msg
}

func inputErrorf(format string, args ...interface{}) *InputError {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}
