package main

import "github.com/josephschmitt/maestro/internal/cli"

func main() {
	cli.Execute()
}
