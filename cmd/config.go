package cmd

import (
	"fmt"
	"github.com/arcward/craftcord/craftcord"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"io"
)

const redacted = "[redacted]"

var showSecrets bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfigYAML(cmd.OutOrStdout(), cfg, showSecrets)
	},
}

// writeConfigYAML renders c, replacing the bot token and cookie secret
// unless showSecrets is set
func writeConfigYAML(w io.Writer, c *craftcord.Config, showSecrets bool) error {
	node := &yaml.Node{}
	if err := node.Encode(c); err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	redactSecrets(node, showSecrets)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return enc.Close()
}

// redactSecrets walks the encoded document, replacing non-empty token
// and secret values
func redactSecrets(node *yaml.Node, showSecrets bool) {
	if node.Kind == yaml.DocumentNode {
		for _, child := range node.Content {
			redactSecrets(child, showSecrets)
		}
		return
	}
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "token", "secret":
			if !showSecrets && value.Value != "" {
				value.SetString(redacted)
			}
		}
		redactSecrets(value, showSecrets)
	}
}

func init() {
	configCmd.Flags().BoolVar(
		&showSecrets,
		"show-secrets",
		false,
		"Include the discord token and API secret in the output",
	)
	rootCmd.AddCommand(configCmd)
}
