package main

import "skill-barter/messaging/internal/cli"

func main() {
	cli.Execute()
}
