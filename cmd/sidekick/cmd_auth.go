package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sidekick/internal/config"
	"sidekick/internal/secrets"
)

// authCmd manages the Gemini credential
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Gemini API credential",
	Long: `Configure the Gemini API key sidekick uses.

Available subcommands:
  set-key - Store an API key
  status  - Show whether a key is configured`,
}

// authSetKeyCmd stores the API key
var authSetKeyCmd = &cobra.Command{
	Use:   "set-key [key]",
	Short: "Store the Gemini API key",
	Long: `Store the Gemini API key in the sidekick secret store
(~/.sidekick/secrets.json, mode 0600).

The key can be passed as an argument or entered at the prompt.
The GEMINI_API_KEY environment variable takes effect without this
command but is not persisted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthSetKey,
}

// authStatusCmd reports credential presence without printing it
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API key is configured",
	RunE:  runAuthStatus,
}

func openSecretStore() secrets.Store {
	fs := secrets.NewFileStore(filepath.Join(config.DataDir(), "secrets.json"))
	return secrets.EnvFallback{Store: fs, EnvVar: "GEMINI_API_KEY"}
}

func runAuthSetKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = strings.TrimSpace(args[0])
	} else {
		fmt.Print("Gemini API key: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return fmt.Errorf("no key provided")
	}

	store := openSecretStore()
	if err := store.Set(secrets.APIKeyName, key); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	fmt.Println("API key stored.")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	store := openSecretStore()
	key, err := store.Get(secrets.APIKeyName)
	if err != nil {
		return err
	}
	if key == "" {
		fmt.Println("No API key configured. Run 'sidekick auth set-key'.")
		return nil
	}
	fmt.Printf("API key configured (%d characters).\n", len(key))
	return nil
}

func init() {
	authCmd.AddCommand(authSetKeyCmd)
	authCmd.AddCommand(authStatusCmd)
}
