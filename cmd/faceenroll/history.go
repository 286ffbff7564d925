package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent enrollment attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Number of attempts to show")
	historyCmd.Flags().Bool("samples", false, "Show per-sample scores")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	showSamples := mustGetBool(cmd, "samples")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	repo := st.Attempts()
	attempts, err := repo.Recent(limit)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) == 0 {
		fmt.Println("No enrollment attempts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATE\tSAMPLES\tERROR\tID")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			a.CreatedAt.Local().Format(time.DateTime), a.State, a.Samples, a.Target, a.ErrorKind, a.ID)

		if !showSamples {
			continue
		}
		samples, err := repo.Samples(a.ID)
		if err != nil {
			return fmt.Errorf("list samples: %w", err)
		}
		for _, s := range samples {
			fmt.Fprintf(w, "\t  #%d\tq=%.2f\tconf=%.2f\t%s\n",
				s.Index, s.QualityScore, s.DetectionConfidence, s.CapturedAt.Local().Format(time.TimeOnly))
		}
	}
	return w.Flush()
}
