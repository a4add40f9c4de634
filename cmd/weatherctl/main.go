// Command weatherctl queries and maintains the weather aggregator from the
// shell, using the same config and cache backend as the service.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
