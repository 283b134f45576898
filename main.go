package main

import "github.com/tradewatch/cachecore/cmd"

func main() {
	cmd.Execute()
}
