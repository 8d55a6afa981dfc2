// The main package for the webcrawler executable.
package main

import (
	"github.com/JakeFAU/parallel-webcrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
