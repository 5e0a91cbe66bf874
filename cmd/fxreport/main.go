package main

import "fxreport/internal/cli"

func main() {
	cli.Execute()
}
