package qunit

import (
	"sort"

	"github.com/quantumcore/qbdtsim/engine"
)

// Multi is the multi-device shard orchestrator, spec §4.3's QUnitMulti:
// it embeds the single-device Register base and adds bin-packing device
// placement, grounded method-for-method on
// original_source/src/qunitmulti.cpp.
type Multi struct {
	*Register
}

// NewMulti builds a Multi of qubitCount qubits. opts must include
// WithRegistry; RedistributeQEngines is a no-op without one.
func NewMulti(qubitCount int, opts ...Option) (*Multi, error) {
	base, err := NewRegister(qubitCount, opts...)
	if err != nil {
		return nil, err
	}
	return &Multi{Register: base}, nil
}

// qEngineInfo pairs a distinct backing engine with the device-list index
// it currently resides on, the Go shape of qunitmulti.cpp's QEngineInfo.
type qEngineInfo struct {
	unit        *engine.DenseEngine
	deviceIndex int
}

// GetQInfos collects one (unit, deviceIndex) pair per distinct backing
// engine referenced by the register's shards, sorted by engine size
// descending for best-fit placement, per spec §4.3.
func (m *Multi) GetQInfos() []qEngineInfo {
	devices := m.registry().Devices()
	indexOf := func(id engine.DeviceID) int {
		for i, d := range devices {
			if d.ID == id {
				return i
			}
		}
		return -1
	}

	var infos []qEngineInfo
	for _, u := range m.shards.distinctUnits() {
		idx := indexOf(u.GetDeviceID())
		if idx < 0 {
			idx = 0
		}
		infos = append(infos, qEngineInfo{unit: u, deviceIndex: idx})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].unit.GetQubitCount() > infos[j].unit.GetQubitCount()
	})
	return infos
}

// RedistributeQEngines implements the best-fit-by-ascending-load bin
// packing from spec §4.3: engines of a single qubit or at/below the
// hybrid qubit threshold are skipped (left wherever they already are),
// the rest are walked in descending size and placed on the least-loaded
// device that can still hold them, preferring the engine's current
// device on zero load and the default device on a tie.
func (m *Multi) RedistributeQEngines() error {
	if m.registry() == nil {
		return nil
	}
	devices := m.registry().Devices()
	if len(devices) == 0 {
		return ErrNoDevices
	}
	if len(devices) == 1 {
		return nil
	}
	defaultID := m.registry().Default().ID
	defaultIdx := 0
	for i, d := range devices {
		if d.ID == defaultID {
			defaultIdx = i
			break
		}
	}

	infos := m.GetQInfos()
	devSizes := make([]uint64, len(devices))

	for _, info := range infos {
		size := uint64(1) << uint(info.unit.GetQubitCount())
		if info.unit.GetQubitCount() <= 1 || info.unit.GetQubitCount() <= m.config.QubitThreshold {
			continue
		}

		devID := info.unit.GetDeviceID()
		devIndex := info.deviceIndex
		sz := devSizes[devIndex]

		if sz > 0 {
			if devSizes[defaultIdx] < sz {
				devID, devIndex, sz = defaultID, defaultIdx, devSizes[defaultIdx]
			}
			for j, d := range devices {
				if devSizes[j] < sz && devSizes[j]+size <= d.MaxSize {
					devID, devIndex, sz = d.ID, j, devSizes[j]
				}
			}
			info.unit.SetDevice(devID)
		}

		devSizes[devIndex] += size
	}

	m.log.Debug().Int("devices", len(devices)).Msg("qunit: redistributed engines")
	return nil
}

// EntangleInCurrentBasis merges qubits into one engine, migrating the
// first engine to the default device beforehand if the merged result
// would not fit on its current device, then redistributes across
// devices — spec §4.3's entanglement hook.
func (m *Multi) EntangleInCurrentBasis(qubits []int) (*engine.DenseEngine, error) {
	if len(qubits) == 0 {
		return nil, ErrInvalidQubitIndex
	}
	first := m.shards[qubits[0]].unit

	allSame := true
	seen := map[*engine.DenseEngine]struct{}{first: {}}
	totalQubits := first.GetQubitCount()
	for _, q := range qubits[1:] {
		u := m.shards[q].unit
		if u != first {
			allSame = false
		}
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			totalQubits += u.GetQubitCount()
		}
	}
	if allSame {
		return first, nil
	}

	if len(m.registry().Devices()) == 0 {
		return nil, ErrNoDevices
	}
	defaultDev := m.registry().Default()
	if first.GetDeviceID() != defaultDev.ID {
		if uint64(1)<<uint(totalQubits) > first.GetMaxSize() {
			first.SetDevice(defaultDev.ID)
		}
	}

	unit, err := m.Entangle(qubits)
	if err != nil {
		return nil, err
	}
	if err := m.RedistributeQEngines(); err != nil {
		return nil, err
	}
	return unit, nil
}

// Detach delegates to the base Register, then redistributes.
func (m *Multi) Detach(start, length int, dest *Register) error {
	if err := m.Register.Detach(start, length, dest); err != nil {
		return err
	}
	return m.RedistributeQEngines()
}

// SeparateBit delegates to the base Register, then redistributes.
func (m *Multi) SeparateBit(value bool, qubit int) error {
	if err := m.Register.SeparateBit(value, qubit); err != nil {
		return err
	}
	return m.RedistributeQEngines()
}

// Clone deep-copies the register via the base Clone, wrapping the result
// back into a Multi.
func (m *Multi) Clone() *Multi {
	return &Multi{Register: m.Register.Clone()}
}

// GetQuantumState forces full entanglement of every qubit into one engine
// via EntangleInCurrentBasis (rather than the base's plain Entangle), so
// the final single-engine placement also gets redistributed, then reads
// it out in contiguous logical-qubit order.
func (m *Multi) GetQuantumState(out []complex128) error {
	all := make([]int, m.qubitCount)
	for i := range all {
		all[i] = i
	}
	unit, err := m.EntangleInCurrentBasis(all)
	if err != nil {
		return err
	}
	m.orderContiguous(unit)
	for perm := range out {
		out[perm] = unit.GetAmplitude(uint64(perm))
	}
	return nil
}

// GetProbs is GetQuantumState's squared-modulus counterpart.
func (m *Multi) GetProbs(out []float64) error {
	state := make([]complex128, len(out))
	if err := m.GetQuantumState(state); err != nil {
		return err
	}
	for i, a := range state {
		out[i] = real(a)*real(a) + imag(a)*imag(a)
	}
	return nil
}
