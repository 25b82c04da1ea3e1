package main

import "github.com/rasnes/alphavantage-warehouse/cmd"

func main() {
	cmd.Execute()
}
