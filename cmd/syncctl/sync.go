package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/apiclient"
	"github.com/MayankBharati/solidtracker/internal/domain"
)

var statusFlagLimit int

var syncCmd = &cobra.Command{
	Use:   "sync TYPE ID",
	Short: "Mirror one entity",
	Long: `Mirror one local entity to Insightful. TYPE is one of employee, project, task,
time_entry or screenshot.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

var syncAllCmd = &cobra.Command{
	Use:       "sync-all employees|projects|tasks",
	Short:     "Mirror every active employee, project or task",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"employees", "projects", "tasks"},
	RunE:      runSyncAll,
}

var bindCmd = &cobra.Command{
	Use:   "bind TYPE ID REMOTE_ID",
	Short: "Record the Insightful id of an entity by hand",
	Long: `Record the Insightful id of a local entity without calling Insightful. Use it when a
create was accepted remotely but its reply was unreadable; the raw reply is in the sync log
shown by status.`,
	Args: cobra.ExactArgs(3),
	RunE: runBind,
}

var statusCmd = &cobra.Command{
	Use:   "status TYPE ID",
	Short: "Show the remote linkage and recent sync attempts of an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusFlagLimit, "limit", "n", 20, "number of log entries")
	rootCmd.AddCommand(syncCmd, syncAllCmd, bindCmd, statusCmd)
}

func parseEntityType(raw string) (string, error) {
	entityType, err := domain.ParseEntityType(raw)
	if err != nil {
		return "", err
	}
	return string(entityType), nil
}

func runSync(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	resp, err := client.Sync(ctx, entityType, args[1])
	return emitSyncResponse("sync", resp, err)
}

func runBind(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	resp, err := client.Bind(ctx, entityType, args[1], args[2])
	return emitSyncResponse("bind", resp, err)
}

// emitSyncResponse prints the outcome of a sync or bind, including rejected ones.
func emitSyncResponse(verb string, resp api.SyncResponse, err error) error {
	var apiErr *apiclient.APIError
	if err != nil && (!errors.As(err, &apiErr) || resp.Status == "") {
		return err
	}
	if printErr := out.emit(resp,
		[]string{"TYPE", "ID", "REMOTE ID", "ACTION", "STATUS", "DETAIL"},
		[][]string{{resp.EntityType, resp.EntityID, orDash(resp.RemoteID), orDash(resp.Action), resp.Status, syncDetail(resp)}},
	); printErr != nil {
		return printErr
	}
	if err != nil {
		return fmt.Errorf("%s %s %s failed: %s", verb, resp.EntityType, resp.EntityID, resp.Type)
	}
	return nil
}

func syncDetail(resp api.SyncResponse) string {
	detail := resp.Detail
	if len(resp.Missing) > 0 {
		detail += " (sync first: " + strings.Join(resp.Missing, ", ") + ")"
	}
	return orDash(detail)
}

func runSyncAll(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	result, err := client.SyncAll(ctx, args[0])
	if err != nil {
		return err
	}
	rows := [][]string{{args[0], itoa(result.SyncedCount), itoa(result.DegradedCount), itoa(result.FailedCount)}}
	if err := out.emit(result, []string{"SCOPE", "SYNCED", "DEGRADED", "FAILED"}, rows); err != nil {
		return err
	}
	if out.format == formatTable {
		for _, msg := range result.Errors {
			fmt.Fprintln(out.w, "  "+msg)
		}
	}
	if unsynced := result.FailedCount + result.DegradedCount; unsynced > 0 {
		return fmt.Errorf("%d of %d entities not synced", unsynced, unsynced+result.SyncedCount)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	status, err := client.SyncStatus(ctx, entityType, args[1], statusFlagLimit)
	if err != nil {
		return err
	}

	if out.format == formatTable {
		link := "never synced"
		if status.Linkage != nil {
			link = fmt.Sprintf("remote id %s, last %s at %s", orDash(status.Linkage.RemoteID),
				orDash(status.Linkage.LastSyncStatus), formatTime(status.Linkage.LastSyncedAt))
			if status.Linkage.Placeholder {
				link += " (placeholder)"
			}
		}
		fmt.Fprintf(out.w, "%s %s: %s\n", status.EntityType, status.EntityID, link)
	}

	rows := make([][]string, 0, len(status.Log))
	for _, e := range status.Log {
		created := e.CreatedAt
		rows = append(rows, []string{formatTime(&created), e.Action, e.Status, orDash(e.RemoteID), orDash(e.ErrorClass), orDash(e.ErrorMessage)})
	}
	return out.emit(status, []string{"AT", "ACTION", "STATUS", "REMOTE ID", "CLASS", "ERROR"}, rows)
}
