package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Travis-Britz/cfddns/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// promptForKey asks for the Cloudflare global API key when an email is configured without one.
// If a key file is configured but missing, the key is saved there for next time.
func promptForKey(cmd *cobra.Command, logger *logrus.Logger, cfg *config.Config) error {
	cf := &cfg.Cloudflare
	if cf.APIToken != "" || cf.AuthKey != "" || cf.AuthEmail == "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}

	logger.Debug("no auth key configured; running setup")
	time.Sleep(200 * time.Millisecond) // dirty timer hack to try to get stderr and stdout output lines to display in order
	fmt.Fprintf(cmd.OutOrStdout(), "Enter Cloudflare API Key for %s: \n", cf.AuthEmail)
	bytekey, err := term.ReadPassword(fd)
	if err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))
	if key == "" {
		return errors.New("no key was entered")
	}
	cf.AuthKey = key

	if cf.AuthKeyFile == "" {
		return nil
	}
	if _, err := os.Stat(cf.AuthKeyFile); err == nil {
		return nil
	}
	logger.Infof("creating key file at \"%s\"", cf.AuthKeyFile)
	if err := config.WriteKey(cf.AuthKeyFile, key); err != nil {
		return err
	}
	logger.Infof("key written to \"%s\"", cf.AuthKeyFile)
	return nil
}
