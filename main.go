// The main package for the globaltender executable.
package main

import (
	_ "time/tzdata"

	"github.com/JakeFAU/globaltender/cmd"
)

func main() {
	cmd.Execute()
}
