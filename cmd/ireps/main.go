package main

import (
	"ireps-scraper/cmd/ireps/commands"
	"ireps-scraper/lib/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
