package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/tracer/cpu"
)

// List available intersection devices and mark the one that would be
// selected with the current blacklist and force options.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	devices := cpu.Devices()
	selected, err := tracer.SelectDevice(devices, ctx.StringSlice("blacklist"), ctx.String("force-device"))
	if err != nil {
		logger.Warningf("no device can be selected: %s", err)
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"#", "Name", "Vendor", "Type", "Compute units", "Selected"})
	for index, device := range devices {
		table.Append([]string{
			fmt.Sprintf("%02d", index),
			device.Name,
			device.Vendor,
			device.Type.String(),
			fmt.Sprintf("%d", device.ComputeUnits),
			fmt.Sprintf("%t", index == selected),
		})
	}
	table.Render()

	logger.Noticef("system provides %d device(s):\n%s", len(devices), buf.String())
	return nil
}
