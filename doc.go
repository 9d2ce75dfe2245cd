// Package olav is an enterprise network-operations ChatOps platform.
//
// Operators issue natural-language requests ("check R1 BGP", "back up
// all core routers"); the platform classifies intent, selects a
// workflow, orchestrates tool calls against live network devices and a
// set of backing stores, and returns streaming results. Write-affecting
// operations pause for human approval.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/olav-network/olav/cmd/olav@latest
//
// Write a minimal configuration:
//
//	olav init
//
// Start the server:
//
//	olav serve --config olav.yaml
//
// Register a client session with the master token logged at startup:
//
//	curl -X POST -H "Authorization: Bearer $MASTER_TOKEN" \
//	  -d '{"client_name":"cli","role":"operator"}' \
//	  http://localhost:8080/auth/register
//
// Then stream a request:
//
//	curl -N -X POST -H "Authorization: Bearer $TOKEN" \
//	  -d '{"message":"check R1 BGP status"}' \
//	  http://localhost:8080/orchestrator/stream
//
// The package tree: pkg/workflow is the checkpointed state-graph
// engine, pkg/dispatcher routes requests onto workflows, pkg/fanout
// runs bounded per-device batches, pkg/job drives detached inspection
// jobs, pkg/stream carries the event stream, pkg/auth holds the
// two-tier token model, and pkg/rag backs the knowledge lookups.
package olav
