package main

import (
	_ "fognode/internal/command/agent"
	_ "fognode/internal/command/fleet"
	_ "fognode/internal/command/launch"
	"fognode/internal/command/root"
	_ "fognode/internal/command/status"
)

func main() {
	root.Execute()
}
