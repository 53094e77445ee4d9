package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/condor-spider/cmd/condor-spider/cmd"
	"github.com/armadaproject/condor-spider/internal/common/logging"
)

func main() {
	log.SetFormatter(&logging.CommandLineFormatter{})
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
