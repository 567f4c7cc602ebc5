package evm8

// Sample is a decoded value record, spec.md §4.6.
type Sample struct {
	Channel int
	Counter int
	Value   float64
}

// GainOffsetSource supplies the per-channel scale and offset EVM8
// values are converted through, sourced from the device registers
// evm_data_gain/evm_data_offset. Absent registers default to 1.0/0.0.
type GainOffsetSource interface {
	GainOffset(channel int) (gain, offset float64)
}

// DefaultGainOffset is the GainOffsetSource used when none is
// supplied: every channel is gain 1.0, offset 0.0.
type DefaultGainOffset struct{}

func (DefaultGainOffset) GainOffset(int) (float64, float64) { return 1.0, 0.0 }

// SampleState tracks the running ID/counter sequence and in-progress
// timestamp assembly across successive 4-byte samples, spec.md §4.6.
type SampleState struct {
	haveFirst bool
	prevID    int
	prevCtr   int

	tsFirst  []byte // up to 8 masked bytes
	tsSecond []byte
}

// i24LESigned decodes a little-endian 24-bit two's complement integer.
func i24LESigned(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= -0x1000000 // sign-extend into the top byte
	}
	return v
}

// assembleTimestamp48 packs 8 six-bit chunks (the top 6 bits of each
// masked byte) into a 48-bit integer, most-significant chunk first.
func assembleTimestamp48(chunks []byte) uint64 {
	var v uint64
	for _, c := range chunks {
		v = (v << 6) | uint64(c>>2)
	}
	return v
}

// ProcessSample interprets one 4-byte EVM8 sample (byte[0] is the
// ID/flag byte, byte[1..4] the 24-bit little-endian value) against the
// running state, emitting zero or more Records. A value sample emits at
// most one Record; a timestamp sample emits three once the second
// 8-sample batch completes, spec.md §4.6.
func ProcessSample(st *SampleState, b []byte, gainOffset GainOffsetSource) []Record {
	flag := b[0]
	if flag&0x01 == 0 {
		return []Record{{Status: StatusInvalidBit}}
	}
	if flag&0x02 != 0 {
		return st.collectTimestamp(flag)
	}
	return st.collectValue(b, gainOffset)
}

func (st *SampleState) collectTimestamp(flag byte) []Record {
	masked := flag & 0xFC
	if len(st.tsFirst) < 8 {
		st.tsFirst = append(st.tsFirst, masked)
		return nil
	}
	st.tsSecond = append(st.tsSecond, masked)
	if len(st.tsSecond) < 8 {
		return nil
	}
	t0 := assembleTimestamp48(st.tsFirst)
	t1 := assembleTimestamp48(st.tsSecond)
	diff := int64(t1) - int64(t0)
	st.tsFirst = nil
	st.tsSecond = nil
	return []Record{
		{Status: StatusTimeDiff, Data: diff},
		{Status: StatusTimeStamp1, Data: t1},
		{Status: StatusTimeStamp0, Data: t0},
	}
}

func (st *SampleState) collectValue(b []byte, gainOffset GainOffsetSource) []Record {
	id := int(b[0]&0xF0) >> 5
	counter := int(b[0]&0x0C) >> 2

	if st.haveFirst {
		wantID := (st.prevID + 1) % 8
		if id != wantID {
			st.prevID, st.prevCtr, st.haveFirst = id, counter, true
			return []Record{{Status: StatusInvalidID}}
		}
		wantCtr := st.prevCtr
		if id == 0 {
			wantCtr = (st.prevCtr + 1) % 4
		}
		if counter != wantCtr {
			st.prevID, st.prevCtr, st.haveFirst = id, counter, true
			return []Record{{Status: StatusInvalidCtr}}
		}
	}
	st.prevID, st.prevCtr, st.haveFirst = id, counter, true

	gain, offset := gainOffset.GainOffset(id)
	value := float64(i24LESigned(b[1:4]))*gain + offset
	return []Record{{Status: "", Data: Sample{Channel: id, Counter: counter, Value: value}}}
}
