package main

import "github.com/promptlab/backend/internal/cli"

func main() {
	cli.Execute()
}
