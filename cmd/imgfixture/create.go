package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/aceeric/imgfixture/internal/archive"
	"github.com/aceeric/imgfixture/internal/config"
	"github.com/aceeric/imgfixture/pkg/imgfixture"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// createFlags holds the parsed flags of the create command
type createFlags struct {
	configFile string
	entrypoint string
	cmd        string
	env        []string
	envFile    string
	native     bool
}

var cf createFlags

var createCmd = &cobra.Command{
	Use:   "create [directory] [name]",
	Short: "Builds <directory>/<name>.tar",
	Long: `Builds <directory>/<name>.tar. The directory and name can come from the
command line or from a fixture file given with --config. Command line values
override the fixture file. Without --env or --env-file the image gets an
environment of deliberately invalid values.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&cf.configFile, "config", "c", "", "fixture definition (yaml)")
	createCmd.Flags().StringVarP(&cf.entrypoint, "entrypoint", "e", "", "entrypoint as a JSON literal, like '[\"sh\", \"-c\"]'")
	createCmd.Flags().StringVar(&cf.cmd, "cmd", "", "cmd as a JSON literal, like '[\"echo hello\"]'")
	createCmd.Flags().StringArrayVar(&cf.env, "env", nil, "image environment variable KEY=VALUE (repeatable)")
	createCmd.Flags().StringVar(&cf.envFile, "env-file", "", "dotenv file with image environment variables")
	createCmd.Flags().BoolVar(&cf.native, "native", false, "write tarballs in-process instead of running tar")
}

func runCreate(cmd *cobra.Command, args []string) error {
	opts, err := builderOptsFrom(afero.NewOsFs(), cf, args)
	if err != nil {
		return err
	}
	b, err := imgfixture.NewBuilderWith(opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	start := time.Now()
	if err := <-b.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("image %q saved to %q in %s\n", opts.Name, b.Tarfile(), time.Since(start))
	return nil
}

// builderOptsFrom merges the fixture file, if any, with the command line.
func builderOptsFrom(fs afero.Fs, f createFlags, args []string) (imgfixture.BuilderOpts, error) {
	fixture := config.Fixture{}
	if f.configFile != "" {
		var err error
		if fixture, err = config.LoadFixture(fs, f.configFile); err != nil {
			return imgfixture.BuilderOpts{}, err
		}
	}
	if len(args) > 0 {
		fixture.Directory = args[0]
	}
	if len(args) > 1 {
		fixture.Name = args[1]
	}
	if fixture.Directory == "" || fixture.Name == "" {
		return imgfixture.BuilderOpts{}, fmt.Errorf("directory and name are required")
	}
	if f.entrypoint != "" {
		fixture.Entrypoint = f.entrypoint
	}
	if f.cmd != "" {
		fixture.Cmd = f.cmd
	}
	if f.env != nil || f.envFile != "" {
		fixture.Environment = append([]string{}, f.env...)
		if f.envFile != "" {
			env, err := config.LoadEnvFile(fs, f.envFile)
			if err != nil {
				return imgfixture.BuilderOpts{}, err
			}
			fixture.Environment = append(fixture.Environment, env...)
		}
	}
	opts := imgfixture.BuilderOpts{
		Directory:   fixture.Directory,
		Name:        fixture.Name,
		Entrypoint:  fixture.Entrypoint,
		Cmd:         fixture.Cmd,
		Environment: fixture.Environment,
		Fs:          fs,
	}
	if f.native {
		opts.Archiver = archive.NewTarArchiver(fs)
	}
	return opts, nil
}
