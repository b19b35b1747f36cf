package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PasswordEnv names the environment variable consulted before prompting.
const PasswordEnv = "SYNK_PASSWORD"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// stdinFd is a test seam for the descriptor the password is read from.
var stdinFd = func() int { return int(os.Stdin.Fd()) }

// getPassword returns the password from PasswordEnv or, when unset, prompts
// for it on the terminal without echo.
func getPassword(w io.Writer, prompt string) (string, error) {
	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		return pw, nil
	}

	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	s := strings.TrimRight(string(pw), "\r\n")
	if s == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return s, nil
}
