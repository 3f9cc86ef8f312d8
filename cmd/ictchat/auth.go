package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codefionn/ictchat/internal/authz"
	"github.com/codefionn/ictchat/internal/jwtinspect"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Validate and persist a token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(false)
		if err != nil {
			return err
		}
		defer a.Close()

		token := strings.TrimSpace(tokenFlag)
		if token == "" {
			if token, err = promptForToken("Paste token: "); err != nil {
				return err
			}
		}
		if token == "" {
			return errors.New("no token given")
		}

		verdict := a.authorizer.Authorize(cmd.Context(), token)
		if !verdict.Authorized() {
			return rejected(verdict)
		}
		defer verdict.Token.Destroy()
		fmt.Fprintf(stdout, "Logged in as %s.\n", verdict.Identity.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the persisted token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.authorizer.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity behind the persisted token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(false)
		if err != nil {
			return err
		}
		defer a.Close()

		verdict := a.authorizer.Authorize(cmd.Context(), tokenFlag)
		if !verdict.Authorized() {
			return rejected(verdict)
		}
		defer verdict.Token.Destroy()

		printIdentity(stdout, verdict, time.Now())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

func printIdentity(w io.Writer, v authz.Verdict, now time.Time) {
	id := v.Identity
	fmt.Fprintf(w, "User:    %s (id %s)\n", id.Username, id.ID)
	if id.Email != "" {
		fmt.Fprintf(w, "Email:   %s\n", id.Email)
	}
	fmt.Fprintf(w, "Role:    %s\n", id.Role)
	fmt.Fprintf(w, "App:     %s\n", id.AppName)
	if len(id.Access) > 0 {
		fmt.Fprintf(w, "Access:  %s\n", strings.Join(id.Access, ", "))
	}
	if exp := jwtinspect.Decode(v.Token.Reveal()).ExpiresAtMillis(); exp > 0 {
		fmt.Fprintf(w, "Expires: %s\n", humanize.RelTime(time.UnixMilli(exp), now, "ago", "from now"))
	}
}

// promptForToken reads a token without echo from a terminal, or a line from
// piped input.
func promptForToken(prompt string) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(stderr, prompt)
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
