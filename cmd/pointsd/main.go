package main

import "github.com/gramseva/points/internal/cli"

func main() {
	cli.Execute()
}
