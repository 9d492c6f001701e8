package main

import "github.com/jvs-project/continuity/internal/cli"

func main() {
	cli.Execute()
}
