package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/shardconn/pkg/api"
	"github.com/kasuganosora/shardconn/pkg/config"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [database...]",
		Short: "Connect every shard, ping it and verify the shards of each logical database agree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args)
		},
	}
}

// runCheck 对每个逻辑库执行 Ping 和一致性检查，任一失败返回错误
func runCheck(ctx context.Context, w io.Writer, cfg *config.Config, logger api.Logger, databases []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := api.Open(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(databases) == 0 {
		databases = db.Databases()
	}
	if len(databases) == 0 {
		return fmt.Errorf("no logical database configured")
	}

	failed := 0
	for _, name := range databases {
		if err := checkDatabase(ctx, w, db, name); err != nil {
			fmt.Fprintf(w, "%-20s FAIL  %v\n", name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d logical databases failed", failed, len(databases))
	}
	return nil
}

func checkDatabase(ctx context.Context, w io.Writer, db *api.DB, name string) error {
	conn, err := db.Connect(name)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return err
	}
	md, err := conn.VerifyHomogeneous(ctx)
	if err != nil {
		return err
	}
	shards, _ := db.GetDSManager().Shards(name)
	fmt.Fprintf(w, "%-20s OK    %d shards, %s %s\n", name, len(shards), md.ProductName, md.ProductVersion)
	return nil
}
