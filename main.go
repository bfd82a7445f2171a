package main

import "github.com/metal-toolbox/pms/cmd"

func main() {
	cmd.Execute()
}
