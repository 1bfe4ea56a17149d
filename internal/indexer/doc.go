// Package indexer keeps the session index in sync with agent transcript logs.
//
// An Indexer owns every write to the store. A single worker goroutine takes
// jobs from a queue, so refreshes and full builds never overlap:
//
//	idx := indexer.New(store, sources.DefaultRegistry(roots), indexer.DefaultConfig(),
//	    indexer.WithLogger(log),
//	    indexer.WithMetrics(m),
//	)
//	idx.Start()
//	defer idx.Close()
//
//	stats, err := idx.Refresh(ctx)
//	fmt.Printf("Indexed %d files, skipped %d in %v\n",
//	    stats.FilesIndexed, stats.FilesSkipped, stats.Duration)
//
// Cancelling ctx stops the caller waiting. The job keeps running and its
// results are committed.
//
// # Indexing Pipeline
//
// For each enabled source, in order:
//
//  1. Purge (full build only): delete everything the source owns
//  2. Discovery: list the source's log files
//  3. Removal: paths the index knows but discovery no longer reports are
//     deleted in one transaction and their days' rollups recomputed
//  4. Detect, parse, aggregate, build documents: files are processed in
//     batches of Config.BatchSize with at most Config.Concurrency parser
//     calls in flight
//  5. Commit: each parsed session is written in its own transaction
//
// After every source, tool-IO documents older than the recency window are
// deleted and the oldest remaining ones are emptied until the total fits the
// byte cap.
//
// # Incremental Indexing
//
// A file is skipped when its mtime and size match the stored file record and
// its documents are current. A run over unchanged files opens no transaction.
//
// Append-only sources are throttled while a file is being written: a file
// modified in the last few seconds is left alone, and a hot file is parsed at
// most every 30 seconds. Parses that wrote nothing count too; the worker
// remembers them in memory. A file that was not a session is skipped until it
// changes.
//
// # Error Handling
//
// Nothing stops a run. Discovery failures skip the source, parse failures
// skip the file and commit failures roll back that file only:
//
//	if stats.FilesFailed > 0 {
//	    for _, msg := range stats.ErrorMessages {
//	        log.Println(msg)
//	    }
//	}
//
// Failed files have no file record and are retried on the next run, subject
// to the hot-file throttle.
//
// # Triggers
//
// RequestRefresh queues a refresh without waiting. Calls made while one is
// already queued are dropped, so a burst of filesystem events costs one run.
package indexer
