package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mechaenetia/mechaenetia"
)

func createSaveCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Inspect and seed save directories",
	}
	cmd.AddCommand(createSaveInitCommand(out), createSaveShowCommand(out))
	return cmd
}

func createSaveInitCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Write a default save config unless one exists",
		Long: `Creates the save directory if needed and writes config.toml with default
values. An existing valid config is left untouched; an unparsable one is never
overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, created, err := mechaenetia.LoadOrCreateSave(args[0])
			if err != nil {
				return err
			}
			if created {
				_, _ = fmt.Fprintf(out, "created save config in %s\n", sc.Path)
			} else {
				_, _ = fmt.Fprintf(out, "save config already exists in %s\n", sc.Path)
			}
			return nil
		},
	}
}

func createSaveShowCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "Print the save config of an existing save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := mechaenetia.LoadSave(args[0])
			if err != nil {
				return err
			}
			b, err := mechaenetia.MarshalSave(sc)
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		},
	}
}
