package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/cachebay/config"
	"github.com/shashiranjanraj/cachebay/pkg/cache"
	"github.com/shashiranjanraj/cachebay/pkg/container"
	"github.com/shashiranjanraj/cachebay/pkg/ssr"
)

var snapshotTTL time.Duration

// registry binds the process-lifetime services the snapshot commands share.
// A single cachebay invocation runs exactly one command, so "singleton"
// here just means "connect once even if a command calls newRedisStore more
// than once" rather than anything long-lived.
var registry = container.New()

func init() {
	snapshotPushCmd.Flags().DurationVar(&snapshotTTL, "ttl", time.Hour, "expiry for the pushed snapshot")

	registry.Singleton("cache.store", func() interface{} {
		config.Load()
		store, err := cache.Connect(context.Background())
		if err != nil {
			panic(fmt.Errorf("connect redis: %w", err))
		}
		return store
	})
}

func newRedisStore(ctx context.Context) (store *ssr.RedisStore, closeFn func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	cacheStore := registry.Make("cache.store").(*cache.Store)
	return ssr.NewRedisStore(cacheStore), func() { cacheStore.Close() }, nil
}

// cachebay snapshot pull <key> <outfile> — fetches a dehydrated snapshot
// from Redis and writes it to outfile as JSON.
var snapshotPullCmd = &cobra.Command{
	Use:   "snapshot-pull <key> <outfile>",
	Short: "Pull an SSR snapshot from Redis and write it to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		store, closeFn, err := newRedisStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		snap, ok := store.Load(ctx, args[0])
		if !ok {
			return fmt.Errorf("no snapshot stored under key %q", args[0])
		}

		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return fmt.Errorf("write %q: %w", args[1], err)
		}

		fmt.Printf("wrote %d records to %s\n", len(snap.Records), args[1])
		return nil
	},
}

// cachebay snapshot push <key> <infile> — reads a JSON snapshot file and
// stores it in Redis under key, with a configurable TTL.
var snapshotPushCmd = &cobra.Command{
	Use:   "snapshot-push <key> <infile>",
	Short: "Push an SSR snapshot file into Redis",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %q: %w", args[1], err)
		}
		snap, err := ssr.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}

		store, closeFn, err := newRedisStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.Save(ctx, args[0], snap, snapshotTTL); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		fmt.Printf("stored %d records under %q (ttl=%s)\n", len(snap.Records), args[0], snapshotTTL)
		return nil
	},
}

// cachebay snapshot forget <key> — deletes a stored snapshot.
var snapshotForgetCmd = &cobra.Command{
	Use:   "snapshot-forget <key>",
	Short: "Delete a stored SSR snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		store, closeFn, err := newRedisStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.Forget(ctx, args[0]); err != nil {
			return fmt.Errorf("forget snapshot: %w", err)
		}
		fmt.Printf("forgot %q\n", args[0])
		return nil
	},
}

// cachebay inspect <snapshot-file> — lists every record key a snapshot
// file carries, sorted, without needing a live Client or schema.Config.
var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot-file>",
	Short: "List every record key stored in an SSR snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %q: %w", args[0], err)
		}
		snap, err := ssr.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}

		keys := make([]string, 0, len(snap.Records))
		for _, rec := range snap.Records {
			keys = append(keys, rec.Key)
		}
		sort.Strings(keys)

		for _, k := range keys {
			fmt.Println(k)
		}
		fmt.Printf("%d records\n", len(keys))
		return nil
	},
}
