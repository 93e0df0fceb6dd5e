package syncer

import (
	"sort"

	"saldo/internal/core"
)

// Merge reconciles the local and remote transaction collections.
//
// When the client is online with nothing pending, the remote copy is
// authoritative and replaces local wholesale. Otherwise local edits may
// not have reached the remote yet, so the merge goes record by record:
// remote-only records are adopted, local-only records are kept, and when
// both sides hold the same id the more recently modified one wins, with
// the remote preferred on equal timestamps.
//
// Merge is pure: inputs are never mutated and equal inputs always produce
// the same output, so applying it twice changes nothing.
func Merge(local, remote []core.Transaction, onlineAndClean bool) []core.Transaction {
	if onlineAndClean {
		out := make([]core.Transaction, len(remote))
		for i, tx := range remote {
			out[i] = tx.Clone()
		}
		sortMerged(out)
		return out
	}

	byID := make(map[string]core.Transaction, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))

	for _, tx := range local {
		if _, seen := byID[tx.ID]; !seen {
			order = append(order, tx.ID)
		}
		byID[tx.ID] = tx.Clone()
	}
	for _, tx := range remote {
		current, seen := byID[tx.ID]
		if !seen {
			order = append(order, tx.ID)
			byID[tx.ID] = tx.Clone()
			continue
		}
		if !tx.ModifiedAt.Before(current.ModifiedAt) {
			byID[tx.ID] = tx.Clone()
		}
	}

	out := make([]core.Transaction, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sortMerged(out)
	return out
}

func sortMerged(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if c := txs[i].OperationDate.Compare(txs[j].OperationDate); c != 0 {
			return c < 0
		}
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}
