package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"dgsync/host"
	"dgsync/util"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("usage: ./bin/host [config/host<i>_config.json]")
		return
	}

	var config host.Config
	err := util.ReadJSONConfig(os.Args[1], &config)
	util.CheckErr(err, "Error reading host config %v\n", os.Args[1])

	logger, closer, err := util.NewLogger(fmt.Sprintf("Host%d", config.HostID), config.LogFile, config.LogLevel)
	util.CheckErr(err, "Error setting up logging")
	defer closer.Close()

	h, err := host.New(config, logger)
	util.CheckErr(err, "Host %v could not start", config.HostID)
	defer h.Close()
	h.ServeStatus()

	res, err := h.Run(context.Background())
	util.CheckErr(err, "Host %v failed", config.HostID)
	logger.WithFields(logrus.Fields{
		"app":        res.App,
		"iterations": res.Iterations,
		"owned":      len(res.Values),
	}).Info("host done")
}
