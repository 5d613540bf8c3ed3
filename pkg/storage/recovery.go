package storage

import "github.com/stratadb/strata/pkg/wal"

// RecoveryResult reports what replay observed, used to prime the live
// store and coordinator before they accept new transactions.
type RecoveryResult struct {
	MaxVersion uint64
	MaxTxnID   uint64
}

// Recover replays every committed transaction found in the WAL directory
// into store. Records belonging to a transaction that never reached a
// CommitTxn record (the crash happened between BeginTxn and CommitTxn) are
// discarded entirely -- atomic all-or-nothing per transaction, same as the
// live commit path.
func Recover(dir string, store *ShardedStore) (RecoveryResult, error) {
	records, err := wal.ReadAll(dir)
	if err != nil {
		return RecoveryResult{}, err
	}

	type txnGroup struct {
		writes    []wal.Record
		committed bool
	}
	groups := make(map[uint64]*txnGroup)
	order := make([]uint64, 0)

	for _, rec := range records {
		switch rec.Kind {
		case wal.KindBeginTxn:
			if _, ok := groups[rec.TxnID]; !ok {
				groups[rec.TxnID] = &txnGroup{}
				order = append(order, rec.TxnID)
			}
		case wal.KindWrite, wal.KindDelete:
			g, ok := groups[rec.TxnID]
			if !ok {
				g = &txnGroup{}
				groups[rec.TxnID] = g
				order = append(order, rec.TxnID)
			}
			g.writes = append(g.writes, rec)
		case wal.KindCommitTxn:
			g, ok := groups[rec.TxnID]
			if !ok {
				g = &txnGroup{}
				groups[rec.TxnID] = g
				order = append(order, rec.TxnID)
			}
			g.committed = true
		}
	}

	var result RecoveryResult
	for _, txnID := range order {
		g := groups[txnID]
		if txnID > result.MaxTxnID {
			result.MaxTxnID = txnID
		}
		if !g.committed {
			continue
		}
		for _, rec := range g.writes {
			if rec.Version > result.MaxVersion {
				result.MaxVersion = rec.Version
			}
			switch rec.Kind {
			case wal.KindWrite:
				store.PutWithVersionIdempotent(rec.Key, rec.Value, rec.Version, rec.TimestampMicros)
			case wal.KindDelete:
				store.DeleteWithVersionIdempotent(rec.Key, rec.Version, rec.TimestampMicros)
			}
		}
	}

	store.SetCurrentVersion(result.MaxVersion)
	return result, nil
}
