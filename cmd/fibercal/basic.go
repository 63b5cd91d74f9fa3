package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fibercal/fibercal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "lock",
		Short:   "Lock the system and print the key",
		GroupID: gBasic,
		Long: `Lock the system and print the key.

While the system is locked, commands that change its state (heating, movement, idle) need the key. Keep the key; without it the system cannot be unlocked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := apiClient.Lock()
			if err != nil {
				return fmt.Errorf("failed to lock the system: %v", err)
			}

			cmd.Println(key)
			return nil
		},
	}
}

func NewUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "unlock <key>",
		Short:   "Unlock the system",
		GroupID: gBasic,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.Unlock(args[0])
			if err != nil {
				return fmt.Errorf("failed to unlock the system: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully unlocked the system")
			return nil
		},
	}
}

func NewHeatCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:     "heat <mA>",
		Short:   "Heat with a steady-state current",
		GroupID: gBasic,
		Long: `Heat with a steady-state current, in mA.

The heater approaches the corresponding final temperature over a few minutes. The current must be between 0 and the configured maximum.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			current, err := parseFloatArg(args, "heating current")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetHeatingCurrent(current, key)
			if err != nil {
				return fmt.Errorf("failed to set heating current: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set heating current to %g mA", current)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "lock key, when the system is locked")
	return cmd
}

func NewHeatToCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:     "heat-to <°C>",
		Short:   "Heat towards a target temperature",
		GroupID: gBasic,
		Long: `Heat towards a target temperature, in °C.

Requires a calibrated system; the daemon picks the heating current from the calibration data. The target must lie within the calibrated temperature range.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			temperature, err := parseFloatArg(args, "target temperature")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetTargetTemperature(temperature, key)
			if err != nil {
				return fmt.Errorf("failed to set target temperature: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set target temperature to %g °C", temperature)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "lock key, when the system is locked")
	return cmd
}

func NewMoveCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:     "move <position>",
		Short:   "Move the heater",
		GroupID: gBasic,
		Long: `Move the heater to a position between 0 (rearmost) and 1 (foremost).

Movement takes several seconds; the command returns immediately. The temperature sensor only reads the heater's temperature in the foremost position.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			position, err := parseFloatArg(args, "heater position")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetHeaterPosition(position, key)
			if err != nil {
				return fmt.Errorf("failed to move the heater: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("heater moving to %g", position)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "lock key, when the system is locked")
	return cmd
}

func NewIdleCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:     "idle",
		Short:   "Return the system to its idle current",
		GroupID: gBasic,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Idle(key)
			if err != nil {
				return fmt.Errorf("failed to idle the system: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("system is idle")
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "lock key, when the system is locked")
	return cmd
}
