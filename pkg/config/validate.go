package config

import "github.com/emkey1/pscal-vproc/pkg/vprocerr"

// Validate checks the loaded RuntimeConfig for values that would make the
// runtime unusable, filling in defaults for anything left at its zero
// value (a freshly-created vproc.yml unmarshals onto the default, so zero
// means "user deleted the key", not "user wants zero capacity").
func (c *RuntimeConfig) Validate() error {
	defaults := GetDefaultRuntimeConfig()

	if c.FdTableInitialCapacity <= 0 {
		c.FdTableInitialCapacity = defaults.FdTableInitialCapacity
	}
	if c.TaskTableInitialCapacity <= 0 {
		c.TaskTableInitialCapacity = defaults.TaskTableInitialCapacity
	}
	if c.MaxPtys <= 0 {
		c.MaxPtys = defaults.MaxPtys
	}
	if c.SessionInputBufferSize <= 0 {
		c.SessionInputBufferSize = defaults.SessionInputBufferSize
	}
	if c.PidHintFloor <= 0 {
		c.PidHintFloor = defaults.PidHintFloor
	}
	if c.FdTableInitialCapacity > 1<<20 {
		return vprocerr.Errorf(vprocerr.EINVAL, "fdTableInitialCapacity %d is not sane", c.FdTableInitialCapacity)
	}
	return nil
}
