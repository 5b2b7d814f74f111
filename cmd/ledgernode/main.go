package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/commission-hub/internal/config"
	ledgerapi "github.com/execution-hub/commission-hub/internal/p2p/api"
	"github.com/execution-hub/commission-hub/internal/p2p/consensus"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "commission-ledger").Logger()

	cfg, err := config.LoadLedger()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	logger = logger.With().Str("node_id", cfg.NodeID).Logger()

	node, err := consensus.NewNode(consensus.Config{
		NodeID:         cfg.NodeID,
		RaftAddr:       cfg.RaftAddr,
		DataDir:        cfg.DataDir,
		Bootstrap:      cfg.Bootstrap,
		SnapshotRetain: 2,
		ApplyTimeout:   cfg.ApplyTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create raft node")
	}
	defer func() {
		_ = node.Shutdown()
	}()

	if !cfg.Bootstrap && cfg.JoinEndpoint != "" {
		if err := joinCluster(cfg); err != nil {
			logger.Error().Err(err).Str("endpoint", cfg.JoinEndpoint).Msg("join cluster failed")
		} else {
			logger.Info().Str("endpoint", cfg.JoinEndpoint).Msg("joined cluster")
		}
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 4*time.Second)
	if leader, err := node.WaitForLeader(waitCtx, 150*time.Millisecond); err == nil {
		logger.Info().Str("leader", leader).Msg("leader elected")
	}
	cancelWait()

	apiServer := ledgerapi.NewServer(node, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("raft_addr", cfg.RaftAddr).
			Bool("bootstrap", cfg.Bootstrap).
			Msg("ledger http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func joinCluster(cfg *config.LedgerConfig) error {
	endpoint := strings.TrimRight(cfg.JoinEndpoint, "/") + "/v1/ledger/raft/join"
	body, err := json.Marshal(consensus.Peer{NodeID: cfg.NodeID, RaftAddr: cfg.RaftAddr})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for i := 0; i < cfg.JoinRetries; i++ {
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(cfg.JoinRetryDelay)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("join returned status %d", resp.StatusCode)
		time.Sleep(cfg.JoinRetryDelay)
	}
	if lastErr == nil {
		lastErr = errors.New("join failed")
	}
	return lastErr
}
