package qunit

import "github.com/quantumcore/qbdtsim/engine"

// shard is one partition of the register: a contiguous view of local
// qubit positions backed by a single engine.Engine. The union of every
// shard's qubits partitions the full qubit index space; two qubits share
// a shard iff the register currently treats them as potentially
// entangled, per spec §3.1's Shard definition.
type shard struct {
	// unit is the backing engine. Multiple shards share the same *unit
	// pointer exactly when their qubits have been entangled together;
	// pointer identity is the "distinct backing engine" test GetQInfos
	// and EntangleInCurrentBasis rely on.
	unit *engine.DenseEngine
	// mapped is the local qubit index within unit that this shard's
	// qubit corresponds to.
	mapped int
}

// shardTable is the per-qubit shard table: Register.shards[q] is qubit q's
// current shard. Multiple entries pointing at the same unit means those
// qubits are entangled.
type shardTable []shard

func newShardTable(qubitCount int, perm uint64, registry *engine.Registry) shardTable {
	t := make(shardTable, qubitCount)
	for q := 0; q < qubitCount; q++ {
		bit := (perm >> uint(q)) & 1
		t[q] = shard{
			unit:   engine.NewDenseEngine(1, bit, registry),
			mapped: 0,
		}
	}
	return t
}

// distinctUnits returns the set of distinct backing engines referenced by
// the table, in first-seen order, mirroring qunitmulti.cpp's GetQInfos
// dedup loop over shards.
func (t shardTable) distinctUnits() []*engine.DenseEngine {
	seen := make(map[*engine.DenseEngine]struct{})
	var out []*engine.DenseEngine
	for _, s := range t {
		if _, ok := seen[s.unit]; ok {
			continue
		}
		seen[s.unit] = struct{}{}
		out = append(out, s.unit)
	}
	return out
}
