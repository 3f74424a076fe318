package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"facecraft/internal/models"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Load the configured models and report what is available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := models.Load(cfg, &zlog.Logger)
		if err != nil {
			return fmt.Errorf("required models unavailable: %w", err)
		}
		defer set.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tREQUIRED\tLOADED\tPATH\tERROR")
		for _, s := range set.Statuses {
			fmt.Fprintf(w, "%s\t%t\t%t\t%s\t%s\n", s.Name, s.Required, s.Loaded, s.Path, s.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		caps := set.Processor.Capabilities()
		fmt.Printf("\ndevice: %s\nalignment: %t\nface enhancement: %t\nannotation: %t\n",
			set.Device, caps.Alignment, caps.FaceEnhancement, caps.Annotation)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
