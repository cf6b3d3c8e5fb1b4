// cmd/vtree is a small scripted walkthrough of the tree: open a store,
// write a handful of keys inside one transaction, commit, and report the
// resulting memory footprint. It exists to exercise the public API
// end-to-end, not as a durable CLI — MmapStore does not persist its area
// table across process restarts, so there is no "reopen and query" mode.
package main

import (
	"fmt"
	"os"
	"runtime"

	"vtree/pkg/store"
	"vtree/pkg/treesystem"
	"vtree/pkg/txn"
	"vtree/pkg/vkey"
)

func printMemStats(label string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Printf("=== %s ===\n", label)
	fmt.Printf("Alloc = %v KB, Sys = %v KB, NumGC = %v\n\n", m.Alloc/1024, m.Sys/1024, m.NumGC)
}

func run() error {
	path := "vtree.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	defer os.Remove(path)

	st, err := store.Open(path, 64<<20)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ts, err := treesystem.Open(st, treesystem.Options{})
	if err != nil {
		return fmt.Errorf("opening tree: %w", err)
	}
	defer ts.Close()

	printMemStats("after bootstrap")

	t, err := ts.CreateTransaction(false)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	for i := uint64(0); i < 100; i++ {
		key := vkey.Key{Type: 1, Primary: vkey.MinPrimary + 17 + i}
		df, err := txn.NewDataFile(t, key)
		if err != nil {
			return fmt.Errorf("binding key %d: %w", i, err)
		}
		if err := df.PutBytes([]byte(fmt.Sprintf("row-%d", i))); err != nil {
			return fmt.Errorf("writing key %d: %w", i, err)
		}
	}

	printMemStats("after writing 100 keys")

	if err := ts.Commit(t); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	if err := ts.CheckPoint(); err != nil {
		return fmt.Errorf("checkpointing: %w", err)
	}

	stats := ts.CacheStats()
	fmt.Printf("branch cache: %d hits, %d misses\n", stats.Hits, stats.Misses)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vtree:", err)
		os.Exit(1)
	}
}
