package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewLimitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "limit",
		Short:   "Set the device safety limits",
		GroupID: gAdvanced,
		Long: `Set the device safety limits.

The limits are stored in the daemon's config and enforced by the safety monitor: when the sensor voltage or the temperature exceeds its limit, the system enters safe mode and the heating current is reduced.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "current <mA>",
			Short: "Set the maximum heating current",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := parseFloatArg(args, "max heating current")
				if err != nil {
					return err
				}
				ret, err := apiClient.SetMaxHeatingCurrent(v)
				if err != nil {
					return fmt.Errorf("failed to set max heating current: %v", err)
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "voltage <V>",
			Short: "Set the maximum safe temperature sensor voltage",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := parseFloatArg(args, "max safe voltage")
				if err != nil {
					return err
				}
				ret, err := apiClient.SetMaxSafeVoltage(v)
				if err != nil {
					return fmt.Errorf("failed to set max safe voltage: %v", err)
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "temperature <°C>",
			Short: "Set the maximum safe temperature",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := parseFloatArg(args, "max safe temperature")
				if err != nil {
					return err
				}
				ret, err := apiClient.SetMaxSafeTemperature(v)
				if err != nil {
					return fmt.Errorf("failed to set max safe temperature: %v", err)
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				return nil
			},
		},
	)

	return cmd
}

func NewSpeedFactorCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "speed-factor [factor]",
		Short:   "Get or set the simulation speed factor",
		GroupID: gAdvanced,
		Long: `Get or set the simulation speed factor.

A factor above 1 makes the simulated device heat and move faster than real time, which is handy when trying out calibrations. Only available when the daemon runs a simulated device.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				factor, err := apiClient.GetSpeedFactor()
				if err != nil {
					return fmt.Errorf("failed to get speed factor: %v", err)
				}
				cmd.Printf("%g\n", factor)
				return nil
			}

			factor, err := parseFloatArg(args, "speed factor")
			if err != nil {
				return err
			}
			if _, err := apiClient.SetSpeedFactor(factor); err != nil {
				return fmt.Errorf("failed to set speed factor: %v", err)
			}
			logrus.Infof("successfully set speed factor to %g", factor)
			return nil
		},
	}
}

func NewMagicCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "magic-calibrate",
		Short:   "Calibrate a simulated device instantly",
		GroupID: gAdvanced,
		Long: `Calibrate a simulated device instantly.

Synthesizes measurements from the simulation model instead of running the hours-long procedure. Only available when the daemon runs a simulated device.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.PerformMagicCalibration(); err != nil {
				return fmt.Errorf("failed to magic-calibrate: %v", err)
			}
			cmd.Println("Magic calibration done. The system is now calibrated.")
			return nil
		},
	}
}
