package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/condor-spider/internal/common/app"
	"github.com/armadaproject/condor-spider/internal/common/util"
	"github.com/armadaproject/condor-spider/internal/spider"
)

func scheddsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedds",
		Short: "Lists the schedds a run would query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			sources, err := spider.ResolveSchedds(app.CreateContextWithShutdown(), config)
			if err != nil {
				return err
			}
			w := util.NewTabbedStringBuilder(1, 1, 3, ' ', 0)
			w.Writef("NAME\tPOOL\n")
			for _, source := range sources {
				w.Writef("%s\t%s\n", source.Name, source.Pool)
			}
			fmt.Fprint(cmd.OutOrStdout(), w.String())
			return nil
		},
	}
	return cmd
}
