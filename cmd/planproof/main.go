package main

import "github.com/planproof/planproof/internal/cli"

func main() {
	cli.Execute()
}
