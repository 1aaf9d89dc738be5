// Command publish-agent runs the publishing agent.
package main

import "github.com/devicelab-dev/publish-agent/pkg/cli"

func main() {
	cli.Execute()
}
