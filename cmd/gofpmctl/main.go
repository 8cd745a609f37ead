// gofpmctl is the CLI client for the gofpm daemon.
package main

import "github.com/dantte-lp/gofpm/cmd/gofpmctl/commands"

func main() {
	commands.Execute()
}
