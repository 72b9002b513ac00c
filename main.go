// The main package for the sbir executable.
package main

import (
	"github.com/JakeFAU/sbir-solicitations/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
