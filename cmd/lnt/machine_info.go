package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/llvm/lnt/pkg/fixture"
	"github.com/llvm/lnt/pkg/hostinfo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var machineName string

var machineInfoCmd = &cobra.Command{
	Use:   "machine-info",
	Short: "Print this host as an LNT machine",
	Long: `Print this host as a fixture document with a single machine entry,
ready to be completed with runs and passed to create-instance.`,
	Args: cobra.NoArgs,
	RunE: runMachineInfo,
}

func init() {
	rootCmd.AddCommand(machineInfoCmd)

	machineInfoCmd.Flags().StringVar(&machineName, "name", "",
		"machine name (default: hostname)")
}

func runMachineInfo(cmd *cobra.Command, args []string) error {
	info, err := hostinfo.Collect(context.Background(), machineName)
	if err != nil {
		return err
	}

	log.WithField("cpu", info.CPUModel).
		WithField("cores", info.CPUCores).
		WithField("memory", units.BytesSize(float64(info.MemoryTotal))).
		Debug("Host facts collected")

	doc := fixture.Instance{Machines: []fixture.Machine{info.Machine()}}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)

	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding machine: %w", err)
	}

	return enc.Close()
}
