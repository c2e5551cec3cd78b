// Command swimd is swimctl: start a daemon in the foreground, or talk to
// one already running via its introspection API.
package main

import "github.com/tutu-network/swim/internal/cli"

func main() {
	cli.Execute()
}
