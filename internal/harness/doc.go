// Package harness runs cache synchronization scenarios against an
// in-memory remote graph and checks the outcome of every round.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	root: 1
//	rounds:
//	  - description: "initial tree"
//	    put:
//	      - {id: 1, type: Test:1, fields: [{name: a, type: Dynamic, value: 2}]}
//	      - {id: 2, kind: Value, type: Test:1, data: "hi!", inputs_locked: true, outputs_locked: true, ready: true}
//	  - description: "drop a"
//	    put:
//	      - {id: 1, type: Test:1}
//	    delete: [2]
//	    expect_error: "removal of"
//	assertions:
//	  - type: resources
//	    ids: [1]
//	  - type: traverse
//	    path: [a]
//	    absent: true
//
// Each round writes its put and delete lists into the remote graph and
// then runs exactly one synchronization round. The store generation in the
// trace changes whenever a round leaves the store invalid and it is
// rebuilt.
//
// # Assertion Types
//
// Assertions are evaluated against the store after the last round:
//
//   - resources: the store holds exactly the listed ids
//   - refcount: resource id has the given reference count
//   - traverse: the field path from the root resolves to data, an error
//     message, or nothing (absent)
//   - kv: resource id carries key with value
//   - generation: the current store generation equals value
package harness
