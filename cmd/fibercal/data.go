package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewDataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "data",
		Short:   "Manage calibration data",
		GroupID: gCalibration,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List the calibration measurements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			measurements, err := apiClient.GetCalibrationData()
			if err != nil {
				return fmt.Errorf("failed to get calibration data: %w", err)
			}

			if len(measurements) == 0 {
				cmd.Println("No measurements.")
				return nil
			}
			cmd.Printf("%10s %10s %12s\n", "mA", "V", "°C")
			for _, m := range measurements {
				cmd.Printf("%10.1f %10.3f %12.0f\n", m.HeatingCurrent, m.SensorVoltage, m.Temperature)
			}
			return nil
		},
	}

	saveCmd := &cobra.Command{
		Use:   "save [file]",
		Short: "Save the calibration data to a .cal file",
		Long: `Save the calibration data to a .cal file on the daemon's host.

Without an argument the daemon's configured calibration data path is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			ret, err := apiClient.SaveCalibrationData(path)
			if err != nil {
				return fmt.Errorf("failed to save calibration data: %w", err)
			}
			cmd.Println(ret)
			return nil
		},
	}

	loadCmd := &cobra.Command{
		Use:   "load [file]",
		Short: "Load calibration data from a .cal file",
		Long: `Load calibration data from a .cal file on the daemon's host, replacing the current dataset.

Without an argument the daemon's configured calibration data path is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			ret, err := apiClient.LoadCalibrationData(path)
			if err != nil {
				return fmt.Errorf("failed to load calibration data: %w", err)
			}
			cmd.Println(ret)
			return nil
		},
	}

	cmd.AddCommand(showCmd, saveCmd, loadCmd)
	return cmd
}
