package predictor

import "github.com/haskel/branchsim/internal/trace"

func init() {
	Register(Spec{
		Kind: "fixed",
		Name: "Fixed Prediction",
		Help: "always predicts Taken or Not Taken",
		Params: []Param{
			{Name: "taken", Display: "Always predict taken", Type: ParamBool, Default: true},
		},
		TableBytes: func(Args) int64 { return 0 },
		Build: func(a Args) Predictor {
			return &fixedPredictor{taken: a.Bool(0)}
		},
	})

	Register(Spec{
		Kind: "bimodal",
		Name: "Bimodal",
		Help: "per-address saturating counters",
		Params: []Param{
			{Name: "low_bits", Display: "Branch address low bits", Type: ParamInt, Default: 12, Min: 1, Max: 24},
			{Name: "counter_bits", Display: "Counter bits", Type: ParamInt, Default: 2, Min: 1, Max: 5},
		},
		TableBytes: func(a Args) int64 { return int64(1) << a.Int(0) },
		Build: func(a Args) Predictor {
			return newBimodal(a.Int(0), a.Int(1))
		},
	})

	Register(Spec{
		Kind: "gag",
		Name: "GAg",
		Help: "global history indexing one tagged pattern table",
		Params: []Param{
			{Name: "history", Display: "History length", Type: ParamInt, Default: 8, Min: 1, Max: 17},
			{Name: "low_bits", Display: "Branch address low bits", Type: ParamInt, Default: 8, Min: 1, Max: 12},
			{Name: "counter_bits", Display: "Counter bits", Type: ParamInt, Default: 3, Min: 1, Max: 5},
		},
		TableBytes: func(a Args) int64 { return 2 * (int64(1) << (a.Int(0) + a.Int(1))) },
		Build: func(a Args) Predictor {
			return newGAg(a.Int(0), a.Int(1), a.Int(2))
		},
	})

	Register(Spec{
		Kind: "gshare",
		Name: "GShare",
		Help: "global history XOR branch address",
		Params: []Param{
			{Name: "history", Display: "History length", Type: ParamInt, Default: 8, Min: 1, Max: 24},
			{Name: "low_bits", Display: "Branch address low bits", Type: ParamInt, Default: 8, Min: 1, Max: 12},
			{Name: "counter_bits", Display: "Counter bits", Type: ParamInt, Default: 3, Min: 1, Max: 5},
		},
		TableBytes: func(a Args) int64 { return 2 * (int64(1) << max(a.Int(0), a.Int(1))) },
		Build: func(a Args) Predictor {
			return newGShare(a.Int(0), a.Int(1), a.Int(2))
		},
	})
}

type fixedPredictor struct {
	taken bool
}

func (p *fixedPredictor) Predict(trace.Branch) bool { return p.taken }
func (p *fixedPredictor) Update(trace.Branch)       {}
func (p *fixedPredictor) Reset()                    {}

type bimodal struct {
	mask     uint32
	max      int8
	counters []int8
}

func newBimodal(lowBits, counterBits int) *bimodal {
	return &bimodal{
		mask:     uint32(1)<<lowBits - 1,
		max:      int8(1<<(counterBits-1)) - 1,
		counters: make([]int8, 1<<lowBits),
	}
}

func (p *bimodal) Predict(b trace.Branch) bool {
	return p.counters[b.Address&p.mask] >= 0
}

func (p *bimodal) Update(b trace.Branch) {
	i := b.Address & p.mask
	if b.Taken {
		if p.counters[i] < p.max {
			p.counters[i]++
		}
	} else if p.counters[i] > -p.max-1 {
		p.counters[i]--
	}
}

func (p *bimodal) Reset() {
	clear(p.counters)
}

type patternEntry struct {
	tag     uint8
	counter int8
}

// taggedTable holds the pattern history table shared by GAg and GShare.
// A tag miss predicts taken and reinitializes the entry on update.
type taggedTable struct {
	entries    []patternEntry
	counterMax int8
	lowBits    int
	lowMask    uint32
	highMask   uint32

	history     uint32
	historyMask uint32

	// set by the last Predict, consumed by Update
	index int
	tag   uint8
}

func newTaggedTable(size, historyLength, lowBits, counterBits int) taggedTable {
	return taggedTable{
		entries:     make([]patternEntry, size),
		counterMax:  int8(1<<(counterBits-1)) - 1,
		lowBits:     lowBits,
		lowMask:     uint32(1)<<lowBits - 1,
		highMask:    uint32(1)<<(lowBits+8-counterBits) - 1,
		historyMask: uint32(1)<<historyLength - 1,
	}
}

func (t *taggedTable) lookup(index int, address uint32) bool {
	t.index = index
	t.tag = uint8((address & t.highMask) >> t.lowBits)
	e := t.entries[index]
	if e.tag == t.tag {
		return e.counter >= 0
	}
	return true
}

func (t *taggedTable) update(taken bool) {
	e := &t.entries[t.index]
	switch {
	case e.tag != t.tag:
		e.tag = t.tag
		if taken {
			e.counter = 1
		} else {
			e.counter = -1
		}
	case taken:
		if e.counter < t.counterMax {
			e.counter++
		}
	default:
		if e.counter >= -t.counterMax {
			e.counter--
		}
	}

	t.history <<= 1
	if taken {
		t.history++
	}
}

func (t *taggedTable) reset() {
	clear(t.entries)
	t.history = 0
	t.index = 0
	t.tag = 0
}

type gag struct {
	taggedTable
	historyLength int
}

func newGAg(historyLength, lowBits, counterBits int) *gag {
	return &gag{
		taggedTable:   newTaggedTable(1<<(lowBits+historyLength), historyLength, lowBits, counterBits),
		historyLength: historyLength,
	}
}

func (p *gag) Predict(b trace.Branch) bool {
	index := int((b.Address&p.lowMask)<<p.historyLength + p.history&p.historyMask)
	return p.lookup(index, b.Address)
}

func (p *gag) Update(b trace.Branch) { p.update(b.Taken) }
func (p *gag) Reset()                { p.reset() }

type gshare struct {
	taggedTable
}

func newGShare(historyLength, lowBits, counterBits int) *gshare {
	return &gshare{
		taggedTable: newTaggedTable(1<<max(lowBits, historyLength), historyLength, lowBits, counterBits),
	}
}

func (p *gshare) Predict(b trace.Branch) bool {
	index := int((p.history & p.historyMask) ^ (b.Address & p.lowMask))
	return p.lookup(index, b.Address)
}

func (p *gshare) Update(b trace.Branch) { p.update(b.Taken) }
func (p *gshare) Reset()                { p.reset() }
