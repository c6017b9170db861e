// The main package for the scrapekit executable.
package main

import (
	"github.com/scrapekit/scrapekit/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
