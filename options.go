package browserdb

// options.go re-exports the engine's configuration surface at the package
// root, so callers never need to import the lsm package directly.

import "github.com/browserdb/browserdb/lsm"

// Options configures an Engine at Open. See lsm.Options for the documented
// default of each field.
type Options = lsm.Options

// DefaultOptions returns the configuration documented in spec.md §6.
func DefaultOptions() Options {
	return lsm.DefaultOptions()
}
