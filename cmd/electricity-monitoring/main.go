package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	electricitymon "github.com/nickcrabtree/electricity-monitoring"
)

var once bool

var rootCmd = &cobra.Command{
	Use:   "electricity-monitoring",
	Short: "Whole-home energy accumulation daemon",
	Long: `electricity-monitoring polls smart plug power readings, integrates
them into day, week, month and year kWh counters with calendar resets,
persists the totals across restarts and republishes them to InfluxDB,
Prometheus and a web dashboard.

Configuration is taken from ELECTRICITY_MON_* environment variables.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return electricitymon.Run(electricitymon.Options{
			Once: once,
		})
	},
}

func init() {
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single accumulation cycle and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
