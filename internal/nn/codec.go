package nn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var ErrCorruptRecord = errors.New("corrupt network record")

const (
	recordHeaderSize = 4 * 8
	nodeFixedSize    = 8 + 4 + 4
	edgeSize         = 8 + 4

	// upper bound on slice preallocation driven by untrusted counts
	maxPrealloc = 1 << 16
	// upper bound on declared counts when the record length is unknown
	maxStreamCount = 1 << 31
)

var byteOrder = binary.LittleEndian

// EncodedSize is the length of the binary record MarshalBinary produces.
func (n *Network) EncodedSize() int {
	return recordHeaderSize + len(n.nodes)*nodeFixedSize + n.CountEdges()*edgeSize
}

// MarshalBinary encodes the network record: arity, node count, edge count,
// then per node its edges in insertion order, bias and activation tag.
func (n *Network) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, n.EncodedSize())
	buf = byteOrder.AppendUint64(buf, uint64(n.inputs))
	buf = byteOrder.AppendUint64(buf, uint64(n.outputs))
	buf = byteOrder.AppendUint64(buf, uint64(len(n.nodes)))
	buf = byteOrder.AppendUint64(buf, uint64(n.edges))
	for i := range n.nodes {
		node := &n.nodes[i]
		buf = byteOrder.AppendUint64(buf, uint64(len(node.Edges)))
		for _, edge := range node.Edges {
			buf = byteOrder.AppendUint64(buf, uint64(edge.Source))
			buf = byteOrder.AppendUint32(buf, math.Float32bits(edge.Weight))
		}
		buf = byteOrder.AppendUint32(buf, math.Float32bits(node.Bias))
		buf = byteOrder.AppendUint32(buf, uint32(int32(node.Activation)))
	}
	return buf, nil
}

// WriteTo writes the record in a single call. A short write is reported as
// an error and is not rolled back.
func (n *Network) WriteTo(w io.Writer) (int64, error) {
	buf, err := n.MarshalBinary()
	if err != nil {
		return 0, err
	}
	written, err := w.Write(buf)
	if err == nil && written != len(buf) {
		err = io.ErrShortWrite
	}
	return int64(written), err
}

// UnmarshalBinary decodes a record that must span data exactly. On error the
// receiver is left unchanged.
func (n *Network) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	decoded, err := decodeNetwork(r, int64(len(data)))
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, r.Len())
	}
	n.adopt(decoded)
	return nil
}

// ReadFrom decodes one record from r. The arity stored in the record
// replaces the receiver's; callers that need a fixed arity check it
// afterwards. On error the receiver is left unchanged.
func (n *Network) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	decoded, err := decodeNetwork(cr, -1)
	if err != nil {
		return cr.n, err
	}
	n.adopt(decoded)
	return cr.n, nil
}

func (n *Network) adopt(decoded *Network) {
	reward := n.reward
	*n = *decoded
	n.reward = reward
}

func decodeNetwork(r io.Reader, limit int64) (*Network, error) {
	d := &decoder{r: r}
	inputs := d.u64()
	outputs := d.u64()
	count := d.u64()
	edges := d.u64()
	if d.err != nil {
		return nil, d.fail("header")
	}
	if inputs == 0 || outputs == 0 {
		return nil, fmt.Errorf("%w: zero arity inputs=%d outputs=%d", ErrCorruptRecord, inputs, outputs)
	}
	if count > maxStreamCount || edges > maxStreamCount {
		return nil, fmt.Errorf("%w: node_count=%d edge_count=%d out of range", ErrCorruptRecord, count, edges)
	}
	if inputs > count || outputs > count-inputs {
		return nil, fmt.Errorf("%w: node_count=%d below arity %d+%d", ErrCorruptRecord, count, inputs, outputs)
	}
	if limit >= 0 {
		need := uint64(recordHeaderSize) + count*nodeFixedSize + edges*edgeSize
		if need > uint64(limit) {
			return nil, fmt.Errorf("%w: counts need %d bytes, record has %d", ErrCorruptRecord, need, limit)
		}
	}

	net := &Network{
		nodes:   make([]Node, 0, min(count, maxPrealloc)),
		raw:     make([]float32, inputs),
		inputs:  int(inputs),
		outputs: int(outputs),
		edges:   int(edges),
	}
	var seen uint64
	for i := uint64(0); i < count; i++ {
		local := d.u64()
		if d.err != nil {
			return nil, d.fail(fmt.Sprintf("node %d", i))
		}
		if local > edges-seen {
			return nil, fmt.Errorf("%w: node %d declares %d edges beyond edge_count=%d", ErrCorruptRecord, i, local, edges)
		}
		seen += local

		var node Node
		if local > 0 {
			node.Edges = make([]Edge, 0, min(local, maxPrealloc))
		}
		for j := uint64(0); j < local; j++ {
			source := d.u64()
			weight := d.f32()
			if d.err != nil {
				return nil, d.fail(fmt.Sprintf("node %d edge %d", i, j))
			}
			if source >= count {
				return nil, fmt.Errorf("%w: node %d edge %d source %d out of range", ErrCorruptRecord, i, j, source)
			}
			node.Edges = append(node.Edges, Edge{Source: int(source), Weight: weight})
		}
		node.Bias = d.f32()
		node.Activation = Activation(d.i32())
		if d.err != nil {
			return nil, d.fail(fmt.Sprintf("node %d", i))
		}
		net.nodes = append(net.nodes, node)
	}

	if err := net.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return net, nil
}

type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) read(size int) []byte {
	if d.err != nil {
		return nil
	}
	if _, err := io.ReadFull(d.r, d.buf[:size]); err != nil {
		d.err = err
		return nil
	}
	return d.buf[:size]
}

func (d *decoder) u64() uint64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return byteOrder.Uint64(b)
}

func (d *decoder) f32() float32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(byteOrder.Uint32(b))
}

func (d *decoder) i32() int32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return int32(byteOrder.Uint32(b))
}

// fail classifies the pending read error: running out of bytes means the
// record is truncated, anything else is an I/O failure.
func (d *decoder) fail(where string) error {
	if errors.Is(d.err, io.EOF) || errors.Is(d.err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated at %s: %w", ErrCorruptRecord, where, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("read network record at %s: %w", where, d.err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	read, err := c.r.Read(p)
	c.n += int64(read)
	return read, err
}
