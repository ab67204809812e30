package cmd

import (
	"encoding/json"
	"fmt"
	"github.com/arcward/craftcord/craftcord"
	"github.com/spf13/cobra"
	"runtime"
)

var versionJSON bool

type versionInfo struct {
	Version   string `json:"version"`
	CommitSHA string `json:"commit"`
	BuildTime string `json:"built"`
	GoVersion string `json:"go"`
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:   craftcord.Version,
		CommitSHA: craftcord.CommitSHA,
		BuildTime: craftcord.BuildTime,
		GoVersion: runtime.Version(),
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := currentVersion()
		out := cmd.OutOrStdout()
		if versionJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		_, err := fmt.Fprintf(
			out,
			"craftcord %s (commit %s, built %s, %s)\n",
			v.Version,
			v.CommitSHA,
			v.BuildTime,
			v.GoVersion,
		)
		return err
	},
}

//nolint:gochecknoinits
func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(versionCmd)
}
