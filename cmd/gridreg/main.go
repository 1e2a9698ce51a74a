// Command gridreg manages versioned registries of energy-model projects,
// datasets, dimensions, and dimension mappings.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
