package main

import "github.com/dignifiedquire/iroh-drop/cmd/iroh-drop/cmd"

func main() {
	cmd.Execute()
}
