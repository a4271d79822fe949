// Copyright 2025 The ripcd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

// reassemblySlot is per-fragment-id state accumulating a message split
// across FRAG_HEADER + FRAG frames.
type reassemblySlot struct {
	fragID      uint32
	totalLength int
	readCursor  int
	backing     []byte
	// compressed marks a slot accumulating raw compressed bytes from an
	// LZ4 two-buffer spillover (COMP_FRAG then COMP_DATA continuation);
	// the session decompresses the concatenation once complete rather
	// than surfacing the raw bytes.
	compressed bool
}

func (s *reassemblySlot) complete() bool { return s.readCursor >= s.totalLength }

// SetCompressed flags the slot as holding raw compressed bytes pending a
// single decompress call once the spillover's second frame arrives.
func (s *reassemblySlot) SetCompressed(v bool) { s.compressed = v }

// Compressed reports whether the slot holds raw compressed bytes.
func (s *reassemblySlot) Compressed() bool { return s.compressed }

// reassemblyTable is session-local: one live slot per fragment id, with
// collision eviction when a new FRAG_HEADER reuses an id whose previous
// slot never completed (the id counter wrapped around a stalled peer).
type reassemblyTable struct {
	slots map[uint32]*reassemblySlot
}

func newReassemblyTable() *reassemblyTable {
	return &reassemblyTable{slots: make(map[uint32]*reassemblySlot)}
}

// Begin starts a new slot for fragID sized to totalLength. If a slot
// already exists for fragID, it is evicted (discarded, not completed)
// before the new one starts, per spec §4.3 step 8. totalLength is
// advisory preallocation; Append grows the backing slice if a
// compressed spillover's concatenated size differs.
func (t *reassemblyTable) Begin(fragID uint32, totalLength int) *reassemblySlot {
	slot := &reassemblySlot{fragID: fragID, totalLength: totalLength, backing: make([]byte, 0, totalLength)}
	t.slots[fragID] = slot
	return slot
}

// Append copies payload into the slot for fragID, returning the slot and
// ok=true. Returns ok=false if no slot exists (a FRAG frame arrived
// without a prior FRAG_HEADER). Whether the slot has reached totalLength
// is reported by the slot's complete method, not by ok.
func (t *reassemblyTable) Append(fragID uint32, payload []byte) (*reassemblySlot, bool) {
	slot, ok := t.slots[fragID]
	if !ok {
		return nil, false
	}
	slot.backing = append(slot.backing, payload...)
	slot.readCursor = len(slot.backing)
	return slot, true
}

// Complete removes and returns the finished slot's backing buffer.
func (t *reassemblyTable) Complete(fragID uint32) []byte {
	slot, ok := t.slots[fragID]
	if !ok {
		return nil
	}
	delete(t.slots, fragID)
	return slot.backing[:slot.readCursor]
}

// Evict discards the slot for fragID without surfacing it to the caller,
// used when a stale partial never completes before the session closes.
func (t *reassemblyTable) Evict(fragID uint32) {
	delete(t.slots, fragID)
}

// Len reports the number of live (incomplete) slots.
func (t *reassemblyTable) Len() int { return len(t.slots) }
