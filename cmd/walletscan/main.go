package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/darwayne/utxo-ledger/internal/core/fullnode"
	"github.com/darwayne/utxo-ledger/internal/core/keychain"
	"github.com/darwayne/utxo-ledger/internal/core/ledger"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
	syncer "github.com/darwayne/utxo-ledger/internal/core/sync"
	"github.com/darwayne/utxo-ledger/pkg/sigutil"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

func main() {
	nodeURL := flag.String("node", "", "full node base url")
	xpub := flag.String("xpub", "", "account-level xpub to scan")
	gapLimit := flag.Uint("gap-limit", 20, "consecutive unused addresses to keep loaded")
	dbPath := flag.String("db", "", "sqlite path; empty scans in memory")
	zmqAddr := flag.String("zmq", "", "optional zmq endpoint for live updates")
	proxyAddr := flag.String("proxy", "", "optional socks5 proxy address")
	flag.Parse()

	if *nodeURL == "" || *xpub == "" {
		panic("node and xpub required")
	}

	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	ctx := sigutil.Context(context.Background())

	keys, err := keychain.NewFromXPub(*xpub)
	if err != nil {
		panic(err)
	}

	var store storage.Store
	if *dbPath != "" {
		s, err := storage.NewSQLiteStore(storage.SQLiteStoreOpts{Path: *dbPath, GapLimit: uint32(*gapLimit)})
		if err != nil {
			panic(err)
		}
		defer s.Close()
		store = s
	} else {
		store = storage.NewMemoryStore(storage.MemoryStoreOpts{GapLimit: uint32(*gapLimit)})
	}

	cli, err := fullnode.New(fullnode.Opts{
		BaseURL:   *nodeURL,
		ProxyAddr: *proxyAddr,
		Logger:    l,
	})
	if err != nil {
		panic(err)
	}

	params, err := cli.GetParams(ctx)
	if err != nil {
		panic(err)
	}
	l.Info("connected",
		zap.String("node", *nodeURL),
		zap.String("native_token", params.NativeTokenSymbol))

	ledgerOpts := ledger.Options{
		RewardLock: params.RewardSpendMinBlocks,
		Tokens:     cli,
		Logger:     l,
	}
	engine := syncer.NewEngine(store, cli, keys, syncer.GapLimit{Gap: uint32(*gapLimit)}, syncer.Opts{
		ProcessHistoryOnFinish: true,
		LedgerOpts:             ledgerOpts,
		Logger:                 l,
	})

	start := time.Now()
	if err := engine.Sync(ctx); err != nil {
		panic(err)
	}
	l.Info("scan complete", zap.Duration("took", time.Since(start)))

	err = store.ForEachTokenMetadata(ctx, func(token string, meta *storage.TokenMetadata) error {
		symbol := params.NativeTokenSymbol
		if token != txcodec.NativeTokenID {
			cfg, err := store.GetTokenConfig(ctx, token)
			if err == nil {
				symbol = cfg.Symbol
			} else {
				symbol = token
			}
		}
		fmt.Printf("%-8s unlocked=%s locked=%s txs=%d\n",
			symbol,
			meta.Balance.Unlocked.Format(params.DecimalPlaces),
			meta.Balance.Locked.Format(params.DecimalPlaces),
			meta.NumTransactions)
		return nil
	})
	if err != nil {
		panic(err)
	}

	if *zmqAddr == "" {
		return
	}
	feed := fullnode.NewFeed(*zmqAddr, l)
	updates := feed.Bus().Subscribe()
	go func() {
		for {
			select {
			case <-feed.Bus().Done():
				return
			case tx := <-updates:
				if err := ledger.ProcessSingleTx(ctx, store, tx, ledgerOpts); err != nil {
					l.Warn("error applying live tx", zap.String("tx_id", tx.TxID), zap.Error(err))
				}
			}
		}
	}()
	err = feed.Run(ctx)
	feed.Bus().Close()
	if err != nil && ctx.Err() == nil {
		panic(err)
	}
}
