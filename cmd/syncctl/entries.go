package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/apiclient"
	"github.com/MayankBharati/solidtracker/internal/timeexpr"
)

var (
	entriesFlagFrom  string
	entriesFlagTo    string
	entriesFlagLimit int
	entriesFlagAll   bool

	manualFlagStart string
	manualFlagEnd   string
)

var entriesCmd = &cobra.Command{
	Use:   "entries EMPLOYEE",
	Short: "List an employee's time entries",
	Long: `List an employee's time entries, newest first.

--from and --to accept RFC 3339, "2006-01-02 15:04", "2006-01-02", periods such as
"today", "this week" or "last month", and natural language such as "3 days ago".
A period given as --from alone covers the whole period.`,
	Args: cobra.ExactArgs(1),
	RunE: runEntries,
}

var manualCmd = &cobra.Command{
	Use:   "manual EMPLOYEE PROJECT TASK",
	Short: "Back-fill a closed time entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runManual,
}

func init() {
	entriesCmd.Flags().StringVar(&entriesFlagFrom, "from", "", "start of the window")
	entriesCmd.Flags().StringVar(&entriesFlagTo, "to", "", "end of the window")
	entriesCmd.Flags().IntVarP(&entriesFlagLimit, "limit", "n", 50, "page size")
	entriesCmd.Flags().BoolVar(&entriesFlagAll, "all", false, "follow cursors until every page is read")

	manualCmd.Flags().StringVar(&manualFlagStart, "start", "", "when the work started")
	manualCmd.Flags().StringVar(&manualFlagEnd, "end", "", "when the work ended")
	_ = manualCmd.MarkFlagRequired("start")
	_ = manualCmd.MarkFlagRequired("end")

	rootCmd.AddCommand(entriesCmd, manualCmd)
}

func runEntries(cmd *cobra.Command, args []string) error {
	window, err := timeexpr.ParseRange(entriesFlagFrom, entriesFlagTo, time.Now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	query := apiclient.EntryQuery{EmployeeID: args[0], From: window.From, To: window.To, Limit: entriesFlagLimit}
	var items []api.TimeEntryView
	var next string
	for {
		page, err := client.ListEntries(ctx, query)
		if err != nil {
			return err
		}
		items = append(items, page.Items...)
		next = page.NextCursor
		if !entriesFlagAll || next == "" {
			break
		}
		query.Cursor = next
	}

	rows := make([][]string, 0, len(items))
	for _, e := range items {
		started := e.StartedAt
		duration := formatSeconds(e.DurationSeconds)
		if e.Active {
			duration = (time.Duration(e.ElapsedSeconds) * time.Second).String() + " (running)"
		}
		rows = append(rows, []string{e.ID, e.ProjectID, e.TaskID, formatTime(&started), formatTime(e.EndedAt), duration})
	}
	if err := out.emit(api.ListTimeEntriesResponse{Items: items, NextCursor: next},
		[]string{"ID", "PROJECT", "TASK", "STARTED", "ENDED", "DURATION"}, rows); err != nil {
		return err
	}
	if out.format == formatTable && next != "" {
		cmd.Printf("more entries available, rerun with --all\n")
	}
	return nil
}

func runManual(cmd *cobra.Command, args []string) error {
	now := time.Now()
	start, err := timeexpr.Parse(manualFlagStart, now)
	if err != nil {
		return err
	}
	end, err := timeexpr.Parse(manualFlagEnd, now)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	entry, err := client.CreateManual(ctx, api.CreateManualEntryRequest{
		EmployeeID: args[0],
		ProjectID:  args[1],
		TaskID:     args[2],
		StartedAt:  start,
		EndedAt:    end,
	})
	if err != nil {
		return err
	}
	started := entry.StartedAt
	return out.emit(entry,
		[]string{"ID", "PROJECT", "TASK", "STARTED", "ENDED", "DURATION"},
		[][]string{{entry.ID, entry.ProjectID, entry.TaskID, formatTime(&started), formatTime(entry.EndedAt), formatSeconds(entry.DurationSeconds)}})
}
