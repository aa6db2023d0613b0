package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/near-relayer/pkg/journal"
	ptypes "github.com/ava-labs/near-relayer/pkg/types"
)

func status(c *cli.Context) error {
	j := journal.NewFileJournal(c.String("journal"))
	cp, err := j.Load(c.Context)
	if err != nil {
		return fmt.Errorf("failed to load journal %s: %w", j.Path(), err)
	}
	return printStatus(c.App.Writer, cp)
}

type statusView struct {
	Stage      journal.Stage          `json:"stage"`
	NextStage  journal.Stage          `json:"next_stage"`
	RecordedAt string                 `json:"recorded_at"`
	Request    ptypes.TransferRequest `json:"request"`
	Stages     journal.Payloads       `json:"stages"`
}

func printStatus(w io.Writer, cp *journal.Checkpoint) error {
	if cp == nil {
		_, err := fmt.Fprintln(w, "no transfer in progress")
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(statusView{
		Stage:      cp.Stage,
		NextStage:  cp.Stage.Next(),
		RecordedAt: cp.RecordedAt.UTC().Format(time.RFC3339),
		Request:    cp.Request,
		Stages:     cp.Stages,
	})
}
