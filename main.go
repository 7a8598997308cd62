package main

import "github.com/migmoog/distsys-prj4/cmd"

func main() {
	cmd.Execute()
}
