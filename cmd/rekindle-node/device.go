package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/securestore"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage this identity's per-device signing keys",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered devices",
	RunE:  runDeviceList,
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Derive and register a new device signing key",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceAdd,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceAddCmd)
}

// deviceRegistryPath is where a device manager's non-primary devices are
// persisted, encrypted with the same keystore passphrase as the identity
// mnemonic, so `device add` survives across process invocations.
func deviceRegistryPath() (string, string) {
	return securestore.NormalizeStorageConfig(filepath.Join(flagDataDir, "keys", "devices.enc"), flagPassphrase)
}

// openDeviceManager builds a DeviceManager for identity and restores any
// previously persisted non-primary devices.
func openDeviceManager(identity *keymaterial.Identity) (*keymaterial.DeviceManager, error) {
	dm, err := keymaterial.NewDeviceManager(identity)
	if err != nil {
		return nil, fmt.Errorf("new device manager: %w", err)
	}

	path, secret := deviceRegistryPath()
	if !securestore.IsStorageConfigured(path, secret) {
		return dm, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return dm, nil
	}
	raw, err := securestore.ReadDecryptedFile(path, secret)
	if err != nil {
		return nil, fmt.Errorf("read device registry: %w", err)
	}
	var snap keymaterial.RegistrySnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode device registry: %w", err)
	}
	if err := dm.LoadRegistrySnapshot(snap); err != nil {
		return nil, fmt.Errorf("restore device registry: %w", err)
	}
	return dm, nil
}

// saveDeviceManager persists dm's device list under --data-dir.
func saveDeviceManager(dm *keymaterial.DeviceManager) error {
	path, secret := deviceRegistryPath()
	if !securestore.IsStorageConfigured(path, secret) {
		return nil
	}
	return securestore.WriteEncryptedJSON(path, secret, dm.Snapshot())
}

func runDeviceList(cmd *cobra.Command, args []string) error {
	identity, err := unlockIdentity()
	if err != nil {
		return err
	}
	dm, err := openDeviceManager(identity)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(dm.ListDevices())
}

func runDeviceAdd(cmd *cobra.Command, args []string) error {
	identity, err := unlockIdentity()
	if err != nil {
		return err
	}
	dm, err := openDeviceManager(identity)
	if err != nil {
		return err
	}
	device, err := dm.AddDevice(args[0])
	if err != nil {
		return fmt.Errorf("add device: %w", err)
	}
	if err := saveDeviceManager(dm); err != nil {
		return fmt.Errorf("persist device registry: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(device)
}
