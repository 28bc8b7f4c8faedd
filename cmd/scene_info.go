package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/scene/reader"
)

// Display scene info.
func ShowSceneInfo(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	sc, err := reader.ReadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	logger.Noticef("scene information:\n%s", sceneStats(sc))
	return nil
}

// Tabulate scene geometries followed by a camera and light summary.
func sceneStats(sc *scene.Scene) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Geometry", "Visible", "GI", "Vertices", "Submeshes", "Triangles"})

	for index, geom := range sc.Geometries {
		name := fmt.Sprintf("geometry-%d", index)
		if obj, isObject := geom.(*scene.Object); isObject {
			name = obj.Name
		}

		mesh := geom.Mesh()
		triangles := 0
		for _, indices := range mesh.Submeshes {
			triangles += len(indices) / 3
		}

		table.Append([]string{
			name,
			fmt.Sprintf("%t", geom.Visible()),
			fmt.Sprintf("%t", geom.GlobalIllumination()),
			fmt.Sprintf("%d", len(mesh.Positions)),
			fmt.Sprintf("%d", len(mesh.Submeshes)),
			fmt.Sprintf("%d", triangles),
		})
	}
	table.SetFooter([]string{"", "", "", "", "TOTAL (visible)", fmt.Sprintf("%d", sc.NumTriangles())})
	table.Render()

	fmt.Fprintf(&buf, "%s\n%d light(s)\n", sc.Camera, len(sc.Lights))
	return buf.String()
}
