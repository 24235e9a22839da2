// Package flow defines the authored flow-graph model: flows, typed nodes,
// edges, and the JSON document codec used by the UI authoring tool.
//
// Node configurations are statically typed per variant. The document format
// carries a string type tag plus a config object; decoding selects the
// variant and rejects unknown tags, so the interpreter can switch on the
// discriminant without re-inspecting maps.
//
// The graph may contain cycles. Traversal safety is the engine's concern
// (once-bookkeeping and depth caps); this package only models structure.
package flow
