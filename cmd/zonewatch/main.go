package main

import (
	"github.com/opas200/zonewatch/cmd/zonewatch/cmd"
)

func main() {
	cmd.Execute()
}
