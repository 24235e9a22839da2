// Package harness runs yaml scenario files against an in-memory engine
// with deterministic seams and validates the resulting broadcast trace.
//
// # Scenario Format
//
// Scenarios are yaml files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	flows:
//	  - flows/keyword.json
//	devices: devices.json
//	seed: 1
//	llm_responses:
//	  - "generated reply"
//	steps:
//	  - event: player_speaks
//	    text: "hello there"
//	  - advance: 5s
//	  - choice: { node: n3, id: a }
//	assertions:
//	  - type: broadcast_count
//	    broadcast: ai_message
//	    count: 1
//	  - type: broadcast_order
//	    order: [flow_message, flow_executions_update]
//
// Paths inside a scenario resolve relative to the scenario file.
//
// # Assertion Types
//
//   - broadcast_contains: an envelope of the given type exists whose trace
//     line contains the substring
//   - broadcast_order: envelope types appear in this relative order
//   - broadcast_count: exactly N envelopes of the given type
//   - device_calls: the fake driver recorded exactly this op sequence
//
// # Deterministic Execution
//
// Every run uses a manually advanced scheduler, a seeded rand source, a
// sequential token generator, the recording device driver, and a scripted
// generator, so the same scenario produces a byte-identical trace. Golden
// files live in testdata/golden and regenerate with:
//
//	go test ./internal/harness -update
package harness
