package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/utils"
)

func remove(c *cli.Context) error {
	sugar, err := utils.NewSugaredLogger(utils.LoggerConfig{
		Verbose: c.Bool("verbose"),
		Command: c.Command.Name,
	})
	if err != nil {
		return err
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	j := journal.NewFileJournal(c.String("journal"))
	if err := j.Delete(c.Context); err != nil {
		return fmt.Errorf("failed to delete journal: %w", err)
	}
	sugar.Infow("journal removed", "path", j.Path())
	return nil
}
