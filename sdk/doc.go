// Copyright (c) PipeFlow Authors.
// Licensed under the MIT License.

/*
Package sdk builds workflows operator by operator and drives them on a
PipeFlow server.

A Builder is one authoring session. Declaring a Go function with Function,
Metric or Check registers it for the executor and bundles its source; calling
the declaration appends an operator to the session DAG and returns artifact
handles:

	b := sdk.New(api)
	tbl, _ := b.SQL(ctx, "warehouse", []string{"SELECT * FROM orders"})
	clean, _ := b.Function(cleanOrders)
	out, _ := clean.Call(ctx, tbl)
	rows, _ := out.Get(ctx)

Calls are eager by default: the new outputs are previewed at once. Lazy calls
only record the operator, and the first Get previews it. Either way a preview
runs just the upstream subgraph of the requested artifacts.

Operators are keyed by name. Calling a declaration again with the same name
replaces the earlier operator and everything downstream of it, so handles on
the replaced outputs report artifact-not-found.

Publish registers the DAG as a flow; Flow.Trigger, Flow.Runs and
Builder.DeleteFlow manage it afterwards.
*/
package sdk
