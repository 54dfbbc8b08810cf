// cmd/fairverify recomputes provably-fair results offline from revealed
// seeds, without access to the service.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
