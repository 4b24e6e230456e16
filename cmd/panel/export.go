package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
	"github.com/mosaictheory-jt/panel-chat/internal/export"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Export a session to Markdown, JSON or PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.Close()

		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		s, err := a.ctrl.Loader().Load(cmd.Context(), id)
		if err != nil {
			return err
		}

		path, err := writeExport(s, exportFormat, exportOutput)
		if err != nil {
			return err
		}
		fmt.Printf("Exported to %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Export format (markdown, json, pdf)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", ".", "Output directory")
}

func writeExport(s *core.Session, format, dir string) (string, error) {
	exporter, err := export.GetExporter(export.Format(format))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, export.GenerateFilename(s, exporter.FileExtension()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := exporter.Export(s, f); err != nil {
		return "", fmt.Errorf("failed to export: %w", err)
	}
	return path, nil
}
