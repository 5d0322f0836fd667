// The main package for the paperingest executable.
package main

import (
	"github.com/examarchive/paperingest/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
