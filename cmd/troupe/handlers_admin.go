package main

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/troupehq/troupe/internal/config"
)

// =============================================================================
// Admin Command Handlers
// =============================================================================

// runAdminSetPassword handles admin set-password.
func runAdminSetPassword(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	password := promptSecret(reader, "New dashboard password")
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if confirm := promptSecret(reader, "Confirm password"); confirm != password {
		return fmt.Errorf("passwords do not match")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(cfg.StateDir, "admin_password")
	if err := os.WriteFile(path, []byte(hash+"\n"), 0o600); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Password hash written: %s\n", path)
	return nil
}

// hashPassword returns "<salt-hex>$<sha256(salt || password)-hex>".
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := sha256.Sum256(append(salt, []byte(password)...))
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(sum[:]), nil
}
