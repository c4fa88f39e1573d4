// Command canopy relates ecological datasets to reference hierarchies.
package main

import (
	"github.com/mesh-intelligence/canopy/internal/cli"
)

func main() {
	cli.Execute()
}
