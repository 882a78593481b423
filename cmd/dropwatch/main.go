package main

import "github.com/hedeqiang/dropwatch/cmd/dropwatch/cmd"

func main() {
	cmd.Execute()
}
