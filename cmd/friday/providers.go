package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"friday/internal/config"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured model providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		names := make([]string, 0, len(cfg.LLMs))
		for name := range cfg.LLMs {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPROVIDER\tMODEL\tBASE URL\tCREDENTIAL")
		for _, name := range names {
			l := cfg.LLMs[name]
			marker := ""
			if name == cfg.DefaultLLM {
				marker = " (default)"
			}
			cred := "$" + l.APIKeyEnv
			if l.UsesPlaceholderKey() {
				cred += " unset, placeholder"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\n", name, marker, l.Provider, l.Model, l.BaseURL, cred)
		}
		return w.Flush()
	},
}
