package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named native module is currently paused by the
// operator. Value-moving entry points consult it before mutating state.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the given module is paused. A nil view or
// empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
