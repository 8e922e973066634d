package main

import "github.com/JakeFAU/show-catalog-crawler/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
