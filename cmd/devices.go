package main

import (
	"fmt"
	"strings"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List compute devices and extractor backends",
	Run: func(cmd *cobra.Command, args []string) {
		dev := mc.HostDevice()
		fmt.Printf("Device: %s (%s)\n", dev.Name, dev.Arch)
		fmt.Printf("  Logical CPUs: %d\n", dev.LogicalCPU)
		fmt.Printf("  GOMAXPROCS: %d\n", dev.MaxProcs)
		features := "none detected"
		if len(dev.Features) > 0 {
			features = strings.Join(dev.Features, " ")
		}
		fmt.Printf("  SIMD features: %s\n", features)
		fmt.Printf("  Work-group sizes: classify %d, generate %d\n", mc.ClassifyThreads, mc.GenerateThreads)
		fmt.Println()

		fmt.Println("Backends:")
		for _, b := range mc.SupportedBackends() {
			state := "available"
			if !mc.BackendAvailable(b) {
				state = "unavailable"
			}
			fmt.Printf("  %-8s %s\n", b, state)
		}
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
