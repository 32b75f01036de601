// Package guard switches the process into test mode when imported for side effects.
// Tests that build the full application import it so config defaults resolve to the
// in-memory driver and no binary reaches for PostgreSQL or Redis.
package guard

import "os"

var defaults = [][2]string{
	{"STOREKEEP_TEST_MODE", "1"},
	{"STORE_DRIVER", "memory"},
}

func init() {
	for _, kv := range defaults {
		if _, set := os.LookupEnv(kv[0]); !set {
			_ = os.Setenv(kv[0], kv[1])
		}
	}
}
