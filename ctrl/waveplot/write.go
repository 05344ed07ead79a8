package waveplot

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/natefinch/atomic"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

func WritePlot(p *plot.Plot, width, height vg.Length, output io.Writer, format string) error {
	w, err := p.WriterTo(width, height, format)
	if err != nil {
		return err
	}
	_, err = w.WriteTo(output)
	return err
}

// SavePlot renders the plot in the format named by the path's extension and writes it atomically.
func SavePlot(p *plot.Plot, width, height vg.Length, path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(expanded)), ".")
	switch format {
	case "png", "svg", "pdf", "eps", "jpg", "jpeg", "tif", "tiff":
	default:
		return fmt.Errorf("cannot tell plot format of %q", path)
	}
	var buf bytes.Buffer
	if err := WritePlot(p, width, height, &buf, format); err != nil {
		return err
	}
	return atomic.WriteFile(expanded, &buf)
}
