// The main package for the dispatch executable.
package main

import (
	"github.com/parsera-labs/dispatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
