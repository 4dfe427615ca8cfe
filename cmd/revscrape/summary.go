package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jakopako/revscrape/internal/types"
	"github.com/jakopako/revscrape/internal/utils"
	"github.com/olekukonko/tablewriter"
)

func printSummary(w io.Writer, s types.RunSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Site", "Jobs", "Succeeded", "Failed", "Skipped", "Found")
	if err := table.Append([]string{
		s.Site,
		strconv.Itoa(s.NrJobs),
		strconv.Itoa(s.NrSucceeded),
		strconv.Itoa(s.NrFailed),
		strconv.Itoa(s.NrSkipped),
		strconv.Itoa(s.NrFound),
	}); err != nil {
		return err
	}
	took := ""
	if !s.End.IsZero() {
		took = s.End.Sub(s.Start).Round(time.Second).String()
	}
	table.Footer(s.Phase.String(), took, "", "", "", fmt.Sprintf("run %s", utils.ShortenString(s.RunID, 8)))
	return table.Render()
}

