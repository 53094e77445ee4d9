package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/armadaproject/condor-spider/internal/common/app"
	"github.com/armadaproject/condor-spider/internal/spider"
)

const failOnLostBatchFlag = "fail-on-lost-batch"

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a single collection pass",
		RunE:  runSpider,
	}
	cmd.Flags().Bool(failOnLostBatchFlag, true, "Exit non-zero if any batch of documents could not be delivered")
	return cmd
}

func runSpider(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	failOnLostBatch, err := cmd.Flags().GetBool(failOnLostBatchFlag)
	if err != nil {
		return err
	}

	ctx := app.CreateContextWithShutdown()
	report := spider.Run(ctx, config)
	fmt.Fprint(cmd.OutOrStdout(), report.String())

	if report.Err != nil {
		return report.Err
	}
	if lost := report.LostDocuments(); lost > 0 {
		if failOnLostBatch {
			return errors.Errorf("%d documents could not be delivered", lost)
		}
		log.Warnf("%d documents could not be delivered", lost)
	}
	return nil
}
