// Package main provides a CLI for inspecting and operating a local encrypted
// vault file: read and write records, trigger backups, export or erase all
// data, and review data minimization.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"finvault/internal/audit"
	"finvault/internal/backup"
	"finvault/internal/backup/codec"
	"finvault/internal/compliance"
	"finvault/internal/keyring"
	"finvault/internal/kvstore"
	"finvault/internal/platform/config"
	"finvault/internal/platform/logger"
	"finvault/internal/ratelimit"
	"finvault/internal/vault"
)

const (
	defaultDBPath   = "finvault.db"
	defaultDeviceID = "vaultctl-local"
)

// app wires the full stack over a bolt-backed store.
type app struct {
	store   *kvstore.BoltStore
	vault   *vault.Service
	limiter *ratelimit.Limiter
	audit   *audit.Publisher
	codec   *codec.Codec
	backups *backup.Manager
	facade  *compliance.Service
}

func main() {
	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	setCmd := flag.NewFlagSet("set", flag.ExitOnError)
	removeCmd := flag.NewFlagSet("remove", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	backupCmd := flag.NewFlagSet("backup", flag.ExitOnError)
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	restoreCmd := flag.NewFlagSet("restore", flag.ExitOnError)
	eraseCmd := flag.NewFlagSet("erase", flag.ExitOnError)
	auditCmd := flag.NewFlagSet("minimize", flag.ExitOnError)

	exportPassphrase := exportCmd.String("passphrase", "", "Protect the blob with a passphrase instead of the device key")
	exportPortable := exportCmd.Bool("portable", false, "Emit a portable encrypted blob instead of a plaintext bundle")
	restorePassphrase := restoreCmd.String("passphrase", "", "Passphrase the blob was protected with")
	eraseReason := eraseCmd.String("reason", "user_request", "Reason recorded in the audit trail")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return
	}

	a, err := openApp()
	if err != nil {
		fatal(err)
	}
	defer a.close()

	ctx := context.Background()
	switch command {
	case "get":
		getCmd.Parse(args)
		err = a.get(ctx, getCmd.Args())
	case "set":
		setCmd.Parse(args)
		err = a.set(ctx, setCmd.Args())
	case "remove":
		removeCmd.Parse(args)
		err = a.remove(ctx, removeCmd.Args())
	case "list":
		listCmd.Parse(args)
		err = a.list(ctx)
	case "stats":
		statsCmd.Parse(args)
		err = a.stats(ctx)
	case "backup":
		backupCmd.Parse(args)
		err = a.backup(ctx)
	case "export":
		exportCmd.Parse(args)
		err = a.export(ctx, *exportPortable, *exportPassphrase)
	case "restore":
		restoreCmd.Parse(args)
		err = a.restore(ctx, restoreCmd.Args(), *restorePassphrase)
	case "erase":
		eraseCmd.Parse(args)
		err = a.erase(ctx, *eraseReason)
	case "minimize":
		auditCmd.Parse(args)
		err = a.minimize(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func printUsage() {
	fmt.Println(`vaultctl - Operate a local encrypted vault file

The vault file path comes from FINVAULT_DB (default "finvault.db") and the
device identity from FINVAULT_DEVICE_ID. Records written on one device
identity cannot be read under another.

Usage:
  vaultctl <command> [flags] [args]

Commands:
  get <key>             Print the decrypted record as JSON
  set <key> <json>      Encrypt and store a JSON value
  remove <key>          Delete a record
  list                  List stored record keys
  stats                 Show storage statistics
  backup                Create a backup snapshot of all records now
  export                Print a full data export bundle
  export -portable      Print a portable encrypted backup blob
  restore <blob>        Decrypt a portable blob and print its payload
  erase                 Erase all stored data
  minimize              Run the data-minimization review

Examples:
  vaultctl set assets '{"cash": 1500}'
  vaultctl get assets
  vaultctl export -portable -passphrase "correct horse" > backup.fv1
  vaultctl restore -passphrase "correct horse" "$(cat backup.fv1)"
  vaultctl erase -reason account_closed

Use "vaultctl <command> -h" for more information about a command.`)
}

func openApp() (*app, error) {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.New(logger.WithLevel(logger.ParseLevel(os.Getenv("FINVAULT_LOG_LEVEL"))))

	path := os.Getenv("FINVAULT_DB")
	if path == "" {
		path = defaultDBPath
	}
	deviceID := os.Getenv("FINVAULT_DEVICE_ID")
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	store, err := kvstore.OpenBoltStore(path, kvstore.WithBoltLogger(log))
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg)
	auditPub := audit.NewPublisher(audit.NewInMemoryStore(), audit.WithPublisherLogger(log))

	keys := keyring.New([]string{hostname, deviceID})
	v, err := vault.New(store, keys.Material(), limiter,
		vault.WithLogger(log),
		vault.WithAuditPublisher(auditPub),
		vault.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &app{
		store:   store,
		vault:   v,
		limiter: limiter,
		audit:   auditPub,
	}
	a.codec = codec.New(keys, limiter,
		codec.WithLogger(log),
		codec.WithAuditPublisher(auditPub),
	)
	a.backups = backup.New(v, vaultSnapshotter{v}, limiter, cfg,
		backup.WithLogger(log),
		backup.WithAuditPublisher(auditPub),
	)
	a.facade, err = compliance.New(v, limiter, auditPub, compliance.WithLogger(log))
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing vault file: %v\n", err)
	}
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("get <key>")
	}
	raw, ok := a.vault.GetRaw(ctx, args[0])
	if !ok {
		return fmt.Errorf("no readable record under %q", args[0])
	}
	return printJSON(json.RawMessage(raw))
}

func (a *app) set(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("set <key> <json>")
	}
	var value any
	if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
		return fmt.Errorf("value is not valid JSON: %w", err)
	}
	if err := a.vault.Set(ctx, args[0], value); err != nil {
		return err
	}
	fmt.Printf("stored %q\n", args[0])
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("remove <key>")
	}
	if err := a.vault.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %q\n", args[0])
	return nil
}

func (a *app) list(ctx context.Context) error {
	keys, err := a.vault.ListKeys(ctx)
	if err != nil {
		return err
	}
	return printJSON(keys)
}

func (a *app) stats(ctx context.Context) error {
	st, err := a.vault.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func (a *app) backup(ctx context.Context) error {
	entry, err := a.backups.BackupNow(ctx)
	if err != nil {
		return err
	}
	return printJSON(entry)
}

func (a *app) export(ctx context.Context, portable bool, passphrase string) error {
	bundle, err := a.facade.ExportAllData(ctx)
	if err != nil {
		return err
	}
	if !portable {
		return printJSON(bundle)
	}
	blob, err := a.codec.Create(ctx, bundle.UserData, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(blob)
	return nil
}

func (a *app) restore(ctx context.Context, args []string, passphrase string) error {
	if len(args) != 1 {
		return usageError("restore <blob>")
	}
	payload, err := a.codec.Restore(ctx, args[0], passphrase)
	if err != nil {
		return err
	}
	return printJSON(payload)
}

func (a *app) erase(ctx context.Context, reason string) error {
	if err := a.facade.EraseAllData(ctx, reason); err != nil {
		return err
	}
	fmt.Println("all data erased")
	return nil
}

func (a *app) minimize(ctx context.Context) error {
	report, err := a.facade.AuditDataMinimization(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

// vaultSnapshotter feeds full-vault snapshots to the backup manager.
type vaultSnapshotter struct {
	vault *vault.Service
}

func (s vaultSnapshotter) Snapshot(ctx context.Context) (backup.Payload, error) {
	assets, _ := rawOrNull(ctx, s.vault, "assets")
	settings, _ := rawOrNull(ctx, s.vault, "settings")
	metadata, _ := rawOrNull(ctx, s.vault, "metadata")
	return backup.Payload{Assets: assets, Settings: settings, Metadata: metadata}, nil
}

func rawOrNull(ctx context.Context, v *vault.Service, key string) (json.RawMessage, bool) {
	raw, ok := v.GetRaw(ctx, key)
	if !ok {
		return json.RawMessage("null"), false
	}
	return raw, true
}

func usageError(usage string) error {
	return fmt.Errorf("usage: vaultctl %s", usage)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
