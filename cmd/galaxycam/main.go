package main

import (
	"github.com/bryanchriswhite/galaxycam/cmd/galaxycam/commands"
)

func main() {
	commands.Execute()
}
