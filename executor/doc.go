// Copyright (c) PipeFlow Authors.
// Licensed under the MIT License.

/*
Package executor runs a single DAG operator inside a batch process.

The orchestrator hands the executor a JSON Spec naming the operator kind,
the storage backend and the content/metadata paths of every input and
output. Run reads the inputs, dispatches to the kind handler with the
process stdout and stderr captured, and writes each output as a content
file followed by its metadata file. The execution state is written last,
so a reader that finds content without a state treats the run as
unfinished.

# Failure classification

Errors returned by a handler are mapped onto the execution state:

  - user-fatal: user code returned an error or panicked, returned the
    wrong type, or a check with error severity returned false;
  - user-non-fatal: a check with warning severity returned false. The
    process still exits 0;
  - system: anything else, such as unreadable inputs or storage failures.

# User code

Go cannot load user source at run time. A function bundle is a zip holding
an entry_point.json manifest and the user's files; the manifest's
function_key is resolved against a Registry populated by the binary that
embeds the user code:

	executor.Register("churn.predict", func(t *types.Table) (*types.Table, error) { ... })
*/
package executor
