// Command preparelab creates lab images and hides flag files all over an MBR partitioned
// FAT32 disk image.
package main

import (
	"fmt"
	"os"

	"github.com/aligator/fatslack"
	"github.com/aligator/fatslack/checkpoint"
	"github.com/aligator/fatslack/labimage"
	"github.com/aligator/fatslack/labprep"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var defaultLogFormatter = &log.TextFormatter{}

// infoFormatter prints Info() events as plain lines.
type infoFormatter struct{}

func (f *infoFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Level == log.InfoLevel {
		return append([]byte(entry.Message), '\n'), nil
	}
	return defaultLogFormatter.Format(entry)
}

func setupLogging(quiet, verbose bool) error {
	if quiet && verbose {
		return fmt.Errorf("can't set quiet and verbose flag at the same time")
	}
	log.SetFormatter(new(infoFormatter))
	log.SetLevel(log.InfoLevel)
	if quiet {
		log.SetLevel(log.ErrorLevel)
	}
	if verbose {
		// Switch back to the standard formatter
		log.SetFormatter(defaultLogFormatter)
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func newCmd(fs afero.Fs) *cobra.Command {
	var (
		flagQuiet   bool
		flagVerbose bool
		policyPath  string
		skipChecks  bool
	)

	cmd := &cobra.Command{
		Use:           "preparelab <image> <flag-dir>",
		Short:         "hide the flag files of a directory in the slack space of a disk image",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flagQuiet, flagVerbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := labprep.DefaultPolicy()
			if policyPath != "" {
				var err error
				policy, err = labprep.LoadPolicy(fs, policyPath)
				if err != nil {
					return err
				}
			}

			jobs, err := labprep.Plan(fs, args[1], policy)
			if err != nil {
				return err
			}

			img, err := fatslack.OpenImage(fs, args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			opts := fatslack.DefaultOptions()
			opts.SkipChecks = skipChecks
			session, err := fatslack.NewSession(img, opts)
			if err != nil {
				return err
			}

			results, err := labprep.Hide(session, jobs, policy)
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %v\n", r.Job.Name, r.Region)
			}
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Quiet execution")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose execution")
	cmd.Flags().StringVar(&policyPath, "policy", "", "YAML file which assigns the flags to regions")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Only warn about a damaged boot sector")

	cmd.AddCommand(createCmd(fs))
	return cmd
}

func createCmd(fs afero.Fs) *cobra.Command {
	spec := labimage.DefaultSpec()

	cmd := &cobra.Command{
		Use:   "create <image>",
		Short: "create a new lab image with one FAT32 partition which is smaller than its partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return labimage.Create(fs, args[0], spec)
		},
	}

	cmd.Flags().Int64Var(&spec.Size, "size", spec.Size, "Size of the image in bytes")
	cmd.Flags().Uint32Var(&spec.PartitionStart, "start", spec.PartitionStart, "First sector of the partition")
	cmd.Flags().Uint32Var(&spec.PartitionSectors, "sectors", spec.PartitionSectors, "Number of sectors of the partition")
	cmd.Flags().Int64Var(&spec.FilesystemSize, "fs-size", spec.FilesystemSize, "Size of the filesystem in bytes")
	cmd.Flags().StringVar(&spec.Label, "label", spec.Label, "Volume label")
	return cmd
}

func main() {
	if err := newCmd(afero.NewOsFs()).Execute(); err != nil {
		log.Debug(err)
		fmt.Fprintf(os.Stderr, "%v: %s\n", fatslack.ClassOf(err), checkpoint.Message(err))
		os.Exit(1)
	}
}
