package main

import (
	"context"

	"practo-harvester/cmd/practo-harvester/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
