package app

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/txnsim/src/recovery"
)

func printRecords(out io.Writer, records []recovery.LogRecord) error {
	for _, r := range records {
		if _, err := fmt.Fprintln(out, r.String()); err != nil {
			return err
		}
	}
	return nil
}

func initLog() {
	var archive string

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Prints the records of the write-ahead log or of an archived log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := afero.NewOsFs()

			var (
				records []recovery.LogRecord
				err     error
			)
			if archive != "" {
				records, err = recovery.ReadArchive(fs, archive)
			} else {
				config, cfgErr := rootCmd.LoadConfig()
				if cfgErr != nil {
					return cfgErr
				}
				records, err = recovery.ReadLogFile(fs, config.LogPath())
			}
			if err != nil {
				return err
			}

			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVarP(&archive, "archive", "a", "", "Read a compressed archive instead of the live log")

	rootCmd.AddCommand(cmd)
}
