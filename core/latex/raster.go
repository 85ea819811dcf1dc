package latex

import (
	"strings"

	"github.com/FocuswithJustin/readmetex/core/errors"
)

// rasterDPI is the export density for PNG artifacts.
const rasterDPI = "250"

// RasterizePNG converts a stored SVG artifact to a PNG next to it using an
// external converter. The PNG path is returned.
func RasterizePNG(svgPath string) (string, error) {
	pngPath := strings.TrimSuffix(svgPath, ".svg") + ".png"
	_, err := runCommand("rsvg-convert", "--dpi-x="+rasterDPI, "--dpi-y="+rasterDPI, "-o", pngPath, svgPath)
	if err != nil {
		return "", errors.Wrapf(err, "rasterizing %s", svgPath)
	}
	return pngPath, nil
}
