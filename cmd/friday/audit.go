package main

import (
	"fmt"
	"text/tabwriter"

	"friday/internal/agent"
	"friday/internal/config"
	"friday/internal/db"
	"friday/internal/history"

	"github.com/spf13/cobra"
)

var (
	auditRequestID string
	auditLimit     int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recorded tool invocations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		database, err := db.Open(cfg.DB.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		store := history.NewStore(database)

		var invs []agent.ToolInvocation
		if auditRequestID != "" {
			invs, err = store.ToolCalls(cmd.Context(), auditRequestID)
		} else {
			invs, err = store.Recent(cmd.Context(), auditLimit)
		}
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REQUEST\tROUTE\tSTEP\tTOOL\tINPUT\tOUTPUT\tDURATION")
		for _, inv := range invs {
			output := string(inv.Output)
			if inv.IsError {
				output = "ERROR " + output
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				inv.RequestID, inv.Route, inv.Step, inv.Tool, inv.Input, output, inv.Duration)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditRequestID, "request-id", "", "show invocations for one request")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of recent invocations to show")
}
