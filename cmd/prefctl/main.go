package main

import "woolies-preferences/internal/cli"

func main() {
	cli.Main()
}
