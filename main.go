package main

import "github.com/example/audio-check/internal/cli"

func main() {
	cli.Execute()
}
