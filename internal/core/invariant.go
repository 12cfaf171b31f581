package core

import "fmt"

// Violation reports a broken internal invariant, such as two cache entries
// sharing a key that must be unique. Builds tagged fwip_debug panic; release
// builds return the error so the caller can evict and recreate the entry.
func Violation(format string, args ...any) error {
	err := fmt.Errorf("fwip: invariant violated: "+format, args...)
	if debugInvariants {
		panic(err)
	}
	return err
}
