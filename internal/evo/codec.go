package evo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"evolution/internal/nn"
)

// upper bound on a declared population count
const maxStoredNetworks = 1 << 31

// WriteTo writes the population record: a u64 count followed by one network
// record per slot.
func (p *Population) WriteTo(w io.Writer) (int64, error) {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(p.networks)))
	written, err := w.Write(header[:])
	total := int64(written)
	if err != nil {
		return total, fmt.Errorf("write population header: %w", err)
	}
	if written != len(header) {
		return total, io.ErrShortWrite
	}
	for i, net := range p.networks {
		n, err := net.WriteTo(w)
		total += n
		if err != nil {
			return total, fmt.Errorf("write network %d: %w", i, err)
		}
	}
	return total, nil
}

func (p *Population) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Population) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	if _, err := p.ReadFrom(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes after population", nn.ErrCorruptRecord, r.Len())
	}
	return nil
}

// ReadFrom decodes a population record into the live roster. Slot i receives
// stored network i % count and keeps its reward; stored networks beyond the
// roster are decoded and dropped. An empty roster takes the stored count.
// Every stored network must share the live arity, if the roster has one. On
// error the population is left unchanged.
func (p *Population) ReadFrom(r io.Reader) (int64, error) {
	var header [8]byte
	read, err := io.ReadFull(r, header[:])
	total := int64(read)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return total, fmt.Errorf("%w: truncated population header: %w", nn.ErrCorruptRecord, io.ErrUnexpectedEOF)
		}
		return total, fmt.Errorf("read population header: %w", err)
	}
	count := binary.LittleEndian.Uint64(header[:])
	if count > maxStoredNetworks {
		return total, fmt.Errorf("%w: population count %d out of range", nn.ErrCorruptRecord, count)
	}

	capacity := len(p.networks)
	if capacity == 0 {
		capacity = int(count)
	}
	if count == 0 {
		if capacity > 0 {
			return total, fmt.Errorf("%w: empty population record for %d slots", nn.ErrCorruptRecord, capacity)
		}
		return total, nil
	}

	inputs, outputs := p.Arity()
	keep := min(int(count), capacity)
	stored := make([]*nn.Network, 0, min(keep, 1<<16))
	var discard nn.Network
	for i := uint64(0); i < count; i++ {
		target := &discard
		if int(i) < keep {
			target = &nn.Network{}
		}
		n, err := target.ReadFrom(r)
		total += n
		if err != nil {
			return total, fmt.Errorf("read network %d of %d: %w", i, count, err)
		}
		if inputs == 0 {
			inputs, outputs = target.InputCount(), target.OutputCount()
		}
		if target.InputCount() != inputs || target.OutputCount() != outputs {
			return total, fmt.Errorf("%w: network %d is %d/%d, population is %d/%d",
				nn.ErrArityMismatch, i, target.InputCount(), target.OutputCount(), inputs, outputs)
		}
		if int(i) < keep {
			stored = append(stored, target)
		}
	}

	next := make([]*nn.Network, capacity)
	for i := range next {
		src := stored[i%len(stored)]
		if i >= len(stored) {
			src = src.Clone()
		}
		if i < len(p.networks) {
			src.SetReward(p.networks[i].Reward())
		}
		next[i] = src
	}
	p.networks = next
	p.spare = nil
	return total, nil
}
