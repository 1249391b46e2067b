package main

import (
	"fmt"
	"os"
	"strconv"

	"dgsync/util"
)

func usage() {
	fmt.Println("usage: ./bin/config [sync|port <host> <basePort>]")
	fmt.Println("example ./bin/config sync")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "sync":
		err := util.SynchronizeConfigs()
		util.CheckErr(err, "Failed to synchronize config files")
	case "port":
		if len(os.Args) != 4 {
			usage()
			return
		}
		basePort, err := strconv.Atoi(os.Args[3])
		util.CheckErr(err, "Invalid base port %v", os.Args[3])
		err = util.AssignPorts(os.Args[2], basePort)
		util.CheckErr(err, "Failed to assign port numbers to hosts")
	default:
		usage()
	}
}
