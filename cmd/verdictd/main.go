package main

import "verdictd/internal/cli"

func main() {
	cli.Execute()
}
