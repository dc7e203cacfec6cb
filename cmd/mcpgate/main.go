package main

import "github.com/mcpgate/mcpgate/cmd/mcpgate/cmd"

func main() {
	cmd.Execute()
}
