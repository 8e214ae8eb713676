package main

import "github.com/visionline/camd/internal/commands"

func main() {
	commands.Execute()
}
