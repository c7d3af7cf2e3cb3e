package config

import "fmt"

// Error wraps a configuration problem with the loading stage it came from, mirroring
// the teacher's config error wrapping idiom of naming the failing stage.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
