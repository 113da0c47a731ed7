package main

import "github.com/stackfolio/gqlmux/internal/cli"

func main() {
	cli.Execute()
}
