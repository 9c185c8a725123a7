// Command raftd runs one member of a raft cluster: it loads a TOML
// config, opens a badger-backed log, starts the core on its own
// goroutine via package node, and serves/dials peers over h2c.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/disk"
	"github.com/spf13/cobra"

	"github.com/tinyraft/raftcore/config"
	"github.com/tinyraft/raftcore/node"
	"github.com/tinyraft/raftcore/raft"
	"github.com/tinyraft/raftcore/storage/badgerstore"
	"github.com/tinyraft/raftcore/transport/httptransport"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "raftd",
		Short: "runs one member of a raft cluster",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "raftd.toml", "path to the TOML configuration file")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := badgerstore.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("raftd: open storage: %w", err)
	}
	defer store.Close()

	maxSizeMB, err := cfg.LogMaxSizeMB()
	if err != nil {
		return err
	}
	logger := raft.NewLogger(cfg.LogFile, maxSizeMB)

	peers := make([]raft.Server, 0, len(cfg.Peers)+1)
	peers = append(peers, raft.Server{ID: cfg.ID, Role: raft.Voter})
	transport := httptransport.NewTransport()
	for _, p := range cfg.Peers {
		peers = append(peers, raft.Server{ID: p.ID, Address: p.Address, Role: raft.Voter})
		transport.AddPeer(p.ID, "http://"+p.Address)
	}

	r, err := raft.NewRaft(&raft.Config{
		ID:               cfg.ID,
		Peers:            peers,
		ElectionTick:     cfg.ElectionTick,
		HeartbeatTick:    cfg.HeartbeatTick,
		Storage:          store,
		CatchUpMaxRounds: cfg.CatchUpMaxRounds,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("raftd: start core: %w", err)
	}

	n := node.Start(r)
	defer n.Stop()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: httptransport.NewServer(n).Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("raftd: http server stopped: %v", err)
		}
	}()
	defer httpServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tickLoop(ctx, n)
	go diskHeartbeatLoop(ctx, cfg.DataDir, logger)

	driveReady(ctx, n, store, transport, newMemStore(), logger)
	return nil
}

func tickLoop(ctx context.Context, n *node.Node) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// diskHeartbeatLoop periodically logs data-dir disk usage, the way
// pd_task_handler.go's onStoreHeartbeat samples disk.Usage before
// reporting store capacity - without an actual PD to report to, this
// just surfaces the same numbers to the log.
func diskHeartbeatLoop(ctx context.Context, dir string, logger raft.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			usage, err := disk.Usage(dir)
			if err != nil {
				logger.Warningf("raftd: disk usage: %v", err)
				continue
			}
			logger.Infof("raftd: disk total=%d used=%d free=%d", usage.Total, usage.Used, usage.Free)
		case <-ctx.Done():
			return
		}
	}
}

func driveReady(ctx context.Context, n *node.Node, store *badgerstore.Store, transport *httptransport.Transport, kv *memStore, logger raft.Logger) {
	for {
		select {
		case rd := <-n.Ready():
			if rd.HardState != nil {
				if err := store.SetHardState(rd.HardState.Term, rd.HardState.Vote); err != nil {
					logger.Errorf("raftd: persist hard state: %v", err)
					_ = n.ReportPersistenceFailure(ctx, err)
					n.Advance(rd)
					continue
				}
			}
			if len(rd.UnstableEntries) > 0 {
				if err := store.Append(rd.UnstableEntries); err != nil {
					logger.Errorf("raftd: persist entries: %v", err)
					_ = n.ReportPersistenceFailure(ctx, err)
					n.Advance(rd)
					continue
				}
			}
			if rd.Snapshot != nil {
				// The application-level snapshot bytes traveled in the
				// original MsgInstallSnapshot and aren't replayed through
				// Ready; a real host state machine would keep its own
				// snapshot store keyed by (LastIndex, LastTerm) and look
				// the payload up there instead of carrying it here.
				if err := store.TruncatePrefix(rd.Snapshot.LastIndex, *rd.Snapshot, nil); err != nil {
					logger.Errorf("raftd: install snapshot: %v", err)
				}
			}
			for _, m := range rd.Messages {
				if err := transport.Send(ctx, m); err != nil {
					logger.Warningf("raftd: send to %d: %v", m.To, err)
				}
			}
			for _, ent := range rd.CommittedEntries {
				kv.apply(ent)
			}
			for _, outcome := range rd.CatchUpOutcomes {
				if outcome.Err != nil {
					logger.Warningf("raftd: promotion of %d failed: %v", outcome.ServerID, outcome.Err)
				} else {
					logger.Infof("raftd: promoted %d", outcome.ServerID)
				}
			}
			if rd.SoftState != nil {
				logger.Infof("raftd: role now %s, leader %d", rd.SoftState.RaftState, rd.SoftState.Lead)
			}
			n.Advance(rd)
		case <-ctx.Done():
			return
		}
	}
}
