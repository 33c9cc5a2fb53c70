package main

import "price-testing/internal/cli"

func main() {
	cli.Execute()
}
