package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/sensor"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "List the sampling rates the device supports",
	Run: func(*cobra.Command, []string) {
		for _, r := range sensor.SupportedRates {
			fmt.Printf("%.1f Hz\n", r)
		}
	},
}
