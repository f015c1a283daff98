package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/api"
	"github.com/quotapace/quotapace/internal/client"
	"github.com/quotapace/quotapace/internal/daemon"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Append a collector snapshot record (reads stdin without a file)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading snapshot record: %w", err)
		}

		var record api.IngestSnapshot
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("parsing snapshot record: %w", err)
		}

		ctx := cmd.Context()

		// Prefer the daemon so it stays the single store writer. Fall back to
		// a direct append when it is not running.
		if resp, ingestErr := client.New(cfg.SocketPath).Ingest(ctx, record); ingestErr == nil {
			report(resp.Appended, resp.KeysIngested)
			return nil
		} else if !isConnectionError(ingestErr) {
			return ingestErr
		} else {
			logrus.Debugf("daemon not reachable, appending directly: %v", ingestErr)
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		snap, ingested := daemon.DecodeIngest(record)
		appended, err := daemon.IngestSnapshot(ctx, store, snap)
		if err != nil {
			return err
		}
		report(appended, ingested)
		return nil
	},
}

// isConnectionError reports whether the request never reached a listening
// daemon: a missing socket or a dial failure. Errors after the connection was
// made (API rejections, a broken response read) are surfaced instead of
// triggering a direct append, since the daemon may already have stored the
// snapshot.
func isConnectionError(err error) bool {
	var reqErr *client.RequestError
	if errors.As(err, &reqErr) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

func report(appended bool, keys int) {
	if !appended {
		fmt.Println("Snapshot dropped (older than latest stored sample).")
		return
	}
	fmt.Printf("Appended snapshot with %d key reading(s).\n", keys)
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
