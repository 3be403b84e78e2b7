package main

import "github.com/tylaig/msatempmail/internal/cli"

func main() {
	cli.Execute()
}
