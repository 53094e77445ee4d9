package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/armadaproject/condor-spider/internal/common"
	commonconfig "github.com/armadaproject/condor-spider/internal/common/config"
	"github.com/armadaproject/condor-spider/internal/common/logging"
	"github.com/armadaproject/condor-spider/internal/spider/configuration"
)

const (
	CustomConfigLocation string = "config"
	DefaultConfigPath    string = "./config/condor-spider"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "condor-spider",
		SilenceUsage: true,
		Short:        "Collects HTCondor job records and indexes them",
	}

	addConfigFlag(cmd.PersistentFlags())

	cmd.AddCommand(
		runCmd(),
		scheddsCmd(),
	)

	return cmd
}

func addConfigFlag(flags *pflag.FlagSet) {
	flags.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
}

// loadConfig reads, validates and applies the configuration named by the --config flag.
func loadConfig(flags *pflag.FlagSet) (configuration.SpiderConfiguration, error) {
	var config configuration.SpiderConfiguration
	userSpecifiedConfigs, err := flags.GetStringSlice(CustomConfigLocation)
	if err != nil {
		return config, err
	}

	if _, err := common.LoadConfig(&config, DefaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	if err := logging.ConfigureLogging(config.Logging); err != nil {
		return config, err
	}
	return config, nil
}
