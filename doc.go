// Package svchost manages the lifecycle of OS services that wrap arbitrary
// executables or scripts through an external service-host tool: creation,
// installation, start/stop/restart, uninstallation, and continuous status
// reconciliation.
//
// The core type is the Orchestrator, a state machine driver that validates
// requests, gates user-supplied paths and arguments through PathGuard and
// CommandGuard, drives the HostToolAdapter, and keeps the record Store
// consistent:
//
//	persister := svchost.NewFilePersister("/var/lib/svchost/services.json")
//	store, err := svchost.NewStore(persister)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	adapter := svchost.NewHostToolAdapter("/var/lib/svchost/services",
//	    "/usr/local/bin/svchostw", svchost.NewExecServiceControl())
//	orch := svchost.NewOrchestrator(store, adapter)
//
//	rec, res := orch.Create(ctx, svchost.CreateRequest{
//	    DisplayName:    "My Worker",
//	    ExecutablePath: "/opt/worker/worker",
//	    AutoStart:      true,
//	})
//
// Every operation returns a structured OpResult with a success flag, a
// human-readable message, captured diagnostic detail, and elapsed time.
// Expected failures (validation rejections, status conflicts, tool errors,
// timeouts) are values, never panics.
//
// # Status reconciliation
//
// Two independent monitors publish status-change batches:
//
//   - BaselineMonitor sweeps the whole fleet at a fixed low frequency and is
//     the correctness backstop.
//   - PollCoordinator polls only services in transition, at a frequency
//     adapted to how many are pending, and shuts its timer down entirely
//     when idle. The orchestrator feeds it after every mutating operation.
//
// Consumers treat both event streams as equally authoritative, last write
// wins per service.
//
// # Sandbox layout
//
// Each service owns a sandbox directory named by its id, containing the
// staged host-tool binary, the generated configuration, and a logs
// subdirectory with separate stdout and stderr files. Log-viewing tools
// depend on this layout; it is stable across versions.
package svchost
