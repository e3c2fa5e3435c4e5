package main

import "github.com/pairlink/pairlink/cmd/pairlink/cmd"

func main() {
	cmd.Execute()
}
