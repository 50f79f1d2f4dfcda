package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fernwatch/camtrap/internal/config"
	"github.com/fernwatch/camtrap/internal/recovery"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List sequences held in the recovery store",
	Long: `Lists event sequences that have been captured but not yet delivered,
including sequences recovered from an earlier crash. Delivered events are
removed from the store and will not appear here.`,
	RunE: listEvents,
}

func listEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := recovery.Open(cfg.GetDatabasePath(), cfg.GetSpoolDir())
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.ListUndelivered()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no undelivered events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tPRIORITY\tFRAMES\tDELIVERED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%d\t%v\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Priority, s.Frames, s.Delivered)
	}
	return w.Flush()
}
