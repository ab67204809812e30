package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/arcward/craftcord/craftcord"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
	"io"
	"log"
	"os"
	"strings"
	"syscall"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database, seed the shop and set admin credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		prefix := envPrefix()

		if cfg.DatabaseType == "" {
			log.Fatalf(
				"Environment variable %s_DATABASE_TYPE not set (must be one of: sqlite, postgres)",
				prefix,
			)
		}
		if cfg.Database == "" {
			log.Fatalf(
				"Environment variable %s_DATABASE not set (must be a valid "+
					"database connection string or sqlite file path)",
				prefix,
			)
		}
		// Migrations and the shop catalog
		db, err := craftcord.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		var runtimeConfig craftcord.RuntimeConfig
		rv := db.Order("id").Take(&runtimeConfig)
		if rv.Error != nil {
			if !errors.Is(rv.Error, gorm.ErrRecordNotFound) {
				log.Fatalf("Error retrieving runtime config: %s", rv.Error.Error())
			}
			runtimeConfig = craftcord.DefaultRuntimeConfig()
			if err = db.Create(&runtimeConfig).Error; err != nil {
				log.Fatalf("Error creating runtime config: %v", err)
			}
		}

		out := cmd.OutOrStdout()
		if runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != "" {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")
			username, password := promptAdminCredentials(out, os.Stdin)

			hashedPassword, err := craftcord.HashPassword(password)
			if err != nil {
				log.Fatalf("Error hashing password: %v", err)
			}

			if err := db.Model(&runtimeConfig).Updates(
				map[string]any{
					"admin_username": username,
					"admin_password": hashedPassword,
				},
			).Error; err != nil {
				log.Fatalf("Error updating admin credentials: %v", err)
			}

			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

// promptAdminCredentials reads a username from in, then a password
// (twice, until both entries match) from the terminal
func promptAdminCredentials(out io.Writer, in io.Reader) (string, string) {
	reader := bufio.NewReader(in)

	fmt.Fprint(out, "Enter admin username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}
	for {
		fmt.Fprint(out, "Enter admin password: ")
		passwordBytes, _ := readPassword()
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm admin password: ")
		confirmBytes, _ := readPassword()
		fmt.Fprintln(out)

		if string(passwordBytes) == string(confirmBytes) {
			return username, string(passwordBytes)
		}
		fmt.Fprintln(out, "Passwords do not match. Please try again.")
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
}
