package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/pkg/audio/miniaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture and playback devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		audioCtx, err := miniaudio.NewContext(slog.Default())
		if err != nil {
			return err
		}
		defer audioCtx.Close()

		inputs, err := audioCtx.InputDevices()
		if err != nil {
			return err
		}
		outputs, err := audioCtx.OutputDevices()
		if err != nil {
			return err
		}

		printDevices("capture devices", inputs)
		printDevices("playback devices", outputs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(heading string, devices []miniaudio.DeviceInfo) {
	fmt.Printf("%s:\n", heading)
	if len(devices) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, d.Name)
	}
}
