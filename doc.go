// Package ensemble provides a manager/worker coordination engine for
// generator/simulator workloads: one manager owns a persistent work ledger
// and an allocation loop, and a pool of workers executes user routines over
// a pluggable transport.
//
// Ensemble runs ensembles of computations where generator routines propose
// candidate rows and simulator routines evaluate them. The manager records
// every row in an append-only ledger, decides what to run next through a
// swappable allocation policy, and survives worker loss by releasing held
// rows back to the pool.
//
// # Quick Start
//
// An in-process run with four workers:
//
//	import (
//	    "github.com/hpcoord/ensemble"
//	    "github.com/hpcoord/ensemble/alloc"
//	    "github.com/hpcoord/ensemble/comms"
//	    "github.com/hpcoord/ensemble/worker"
//	)
//
//	cfg := ensemble.DefaultConfig()
//	cfg.NumWorkers = 4
//	cfg.Exit.SimMax = 80
//	cfg.SimIn = []string{"x"}
//
//	schema := ensemble.Schema{Fields: []ensemble.Field{
//	    {Name: "x", Kind: ensemble.FieldFloat},
//	    {Name: "f", Kind: ensemble.FieldFloat},
//	}}
//
//	hub := comms.NewLocalHub(cfg.NumWorkers, 0)
//	mgr, err := ensemble.NewManager(&cfg, hub.Manager(), schema, alloc.NewSimWorkFirst())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for id := 1; id <= cfg.NumWorkers; id++ {
//	    r, err := worker.New(hub.Worker(id), worker.WithGen(genFn), worker.WithSim(simFn))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    go r.Run(ctx)
//	}
//
//	result, err := mgr.Run(ctx)
//
// # Key Features
//
//   - Persistent Work Ledger: Append-only row history with ownership,
//     retries, and checkpoint/restore
//   - Swappable Allocation: Policies implement a single Allocate method over
//     an immutable ledger view (alloc.SimWorkFirst ships as the default)
//   - Transport Agnostic: In-process channels, TCP, and NATS backends behind
//     one Endpoint interface
//   - Persistent Sessions: Long-lived generator routines hold a dialogue
//     with the manager instead of returning after one batch
//   - Fault Tolerance: Peer loss releases held rows for reassignment; the
//     run continues while live workers remain
//
// # Architecture
//
// The manager progresses through a state machine:
//
//	Init → Running → Draining → Shutdown
//
// Each Running iteration folds inbound worker messages into the ledger,
// evaluates exit criteria, invokes the allocation policy, and dispatches the
// resulting work items. Draining covers the stop broadcast and the bounded
// wait for acknowledgements.
//
// Workers mirror this with their own lifecycle:
//
//	Idle → RunningOneShot|RunningPersistent → Idle → ... → Done|Failed
//
// # Advanced Usage
//
// A persistent generator with a NATS transport and checkpointing:
//
//	policy := alloc.NewSimWorkFirst(
//	    alloc.WithPersistentGen(1),
//	    alloc.WithSimBatch(4),
//	)
//
//	store, _ := persist.NewNATSStore(ctx, nc, persist.DefaultBucket)
//	ep, _ := comms.JoinNATS(nc, "run-42", comms.ManagerID, cfg.NumWorkers, 0)
//
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy,
//	    ensemble.WithCheckpointStore(store),
//	    ensemble.WithRunID("run-42"),
//	)
//
// Restarting with the same run id resumes from the last checkpoint: returned
// rows keep their results and rows that were in flight are handed out again.
//
// # Observability
//
// Metrics, logging, and lifecycle hooks are all optional:
//
//	reg := prometheus.NewRegistry()
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy,
//	    ensemble.WithMetrics(ensemble.NewPrometheusMetrics(reg)),
//	    ensemble.WithLogger(ensemble.NewSlogLogger(slog.Default())),
//	    ensemble.WithHooks(&ensemble.Hooks{
//	        OnWorkerFailed: func(ctx context.Context, worker int, released []int64) error {
//	            alerting.Notify(worker, released)
//	            return nil
//	        },
//	    }),
//	)
package ensemble
