package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/docdash/internal/prefs"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	profileUsername string
	profileRemember bool
	profileTokenTTL time.Duration
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Remember your username and API token",
}

var profileSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the login profile",
	Long: `Save the username and, with --remember, the API token so later commands
do not need DOCDASH_API_TOKEN. The token is read from the terminal without
echo, or from stdin when piped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := prefs.Profile{Username: profileUsername, RememberMe: profileRemember}
		if profileRemember {
			token, err := readToken()
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("no API token given")
			}
			p.APIToken = token
		}
		if err := prefs.SaveProfile(store, p, profileTokenTTL); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		if !store.Persistent() {
			fmt.Fprintln(out, "Warning: preferences file not writable; the profile lasts for this run only.")
		}
		fmt.Fprintln(out, "Profile saved.")
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := prefs.LoadProfile(store)
		if err != nil {
			return err
		}
		token := "(none)"
		if p.APIToken != "" {
			token = maskToken(p.APIToken)
		}
		fmt.Fprintf(out, "Username:    %s\n", p.Username)
		fmt.Fprintf(out, "Remember me: %t\n", p.RememberMe)
		fmt.Fprintf(out, "API token:   %s\n", token)
		fmt.Fprintf(out, "Stored in:   %s\n", storeLocation())
		return nil
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the saved profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := prefs.ClearProfile(store); err != nil {
			return err
		}
		fmt.Fprintln(out, "Profile cleared.")
		return nil
	},
}

func init() {
	profileSaveCmd.Flags().StringVarP(&profileUsername, "username", "u", "", "username to remember")
	profileSaveCmd.Flags().BoolVar(&profileRemember, "remember", false, "also remember the API token")
	profileSaveCmd.Flags().DurationVar(&profileTokenTTL, "token-ttl", 30*24*time.Hour, "how long the token is kept (0 = until cleared)")

	profileCmd.AddCommand(profileSaveCmd, profileShowCmd, profileClearCmd)
	rootCmd.AddCommand(profileCmd)
}

func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, "API token: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func maskToken(t string) string {
	if len(t) <= 8 {
		return strings.Repeat("*", len(t))
	}
	return t[:4] + strings.Repeat("*", len(t)-8) + t[len(t)-4:]
}

func storeLocation() string {
	if store.Persistent() {
		return cfg.PrefsFile
	}
	return "memory (not persisted)"
}
