// Package fixture loads resource graphs from YAML or CUE documents and
// writes them into a remote store.
//
// A fixture names a root and lists resources:
//
//	name: pipeline
//	root: 1
//	resources:
//	  - id: 1
//	    type: Pipeline:1
//	    inputs_locked: true
//	    fields:
//	      - {name: spec, type: Input, value: 2}
//	  - id: 2
//	    kind: Value
//	    type: Json:1
//	    data: '{"steps":3}'
//	    inputs_locked: true
//	    outputs_locked: true
//	    ready: true
//
// CUE fixtures use the same layout and are checked against the embedded
// #Fixture schema before decoding.
package fixture
