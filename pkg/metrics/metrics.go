// Copyright 2025 Certen Protocol
//
// Metrics - Prometheus counters/histograms/gauges for the write pipeline,
// event chain, wallet ledger, and gate/dispute flows

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_commits_total",
		Help: "Total number of commitTx calls, by outcome",
	}, []string{"outcome"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nooterra_commit_duration_seconds",
		Help:    "Time taken by commitTx to apply an op batch",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	EventsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_events_appended_total",
		Help: "Total number of events appended to hash-chained streams, by event type",
	}, []string{"event_type"})

	ChainHashMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nooterra_chain_hash_mismatches_total",
		Help: "Total number of CHAIN_HASH_MISMATCH conflicts observed",
	})

	RevisionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nooterra_revision_conflicts_total",
		Help: "Total number of REVISION_CONFLICT conflicts observed",
	})

	WalletPostingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_wallet_postings_total",
		Help: "Total number of wallet postings, by account",
	}, []string{"account"})

	WalletInsufficientFundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nooterra_wallet_insufficient_funds_total",
		Help: "Total number of WALLET_INSUFFICIENT_FUNDS rejections at run creation",
	})

	SettlementsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_settlements_resolved_total",
		Help: "Total number of settlements resolved, by final status",
	}, []string{"status"})

	DisputesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_disputes_opened_total",
		Help: "Total number of disputes opened, by escalation level",
	}, []string{"escalation_level"})

	DisputesClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_disputes_closed_total",
		Help: "Total number of disputes closed, by adjustment kind",
	}, []string{"adjustment_kind"})

	GateAuthorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_x402_gate_authorizations_total",
		Help: "Total number of x402 gate authorize-payment calls, by outcome",
	}, []string{"outcome"})

	GateVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nooterra_x402_gate_verifications_total",
		Help: "Total number of x402 gate verify calls, by outcome",
	}, []string{"outcome"})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nooterra_idempotent_replays_total",
		Help: "Total number of idempotent requests answered from the stored record instead of re-executing",
	})

	IdempotencyKeyReuseRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nooterra_idempotency_key_reuse_rejections_total",
		Help: "Total number of IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_BODY rejections",
	})

	SSEActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nooterra_sse_active_streams",
		Help: "Number of currently open SSE event-stream connections",
	})
)
