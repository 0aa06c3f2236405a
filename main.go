// The main package for the banks-etl executable.
package main

import (
	"github.com/JakeFAU/largest-banks-etl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
