package main

import "pool-risk-alerts/internal/cli"

func main() {
	cli.Execute()
}
