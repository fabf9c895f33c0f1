// The main package for the wikipath executable.
package main

import (
	"github.com/JakeFAU/wikipath/cmd"
)

func main() {
	cmd.Execute()
}
