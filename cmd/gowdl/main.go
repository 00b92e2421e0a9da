// Command gowdl is the local WDL workflow runner CLI.
package main

import "github.com/me/gowdl/internal/cli"

func main() {
	cli.Main()
}
