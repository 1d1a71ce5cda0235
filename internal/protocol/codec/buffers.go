package codec

import "errors"

var ErrBufferOverrun = errors.New("codec: buffer overrun")

// Buffers are the three typed regions of one direction. Doubles[0] is the
// session clock.
type Buffers struct {
	Doubles []float64
	Bytes   []byte
	UInt16s []uint16
}

// NewBuffers allocates zeroed regions for s plus the clock slot.
func NewBuffers(s Sizes) (*Buffers, error) {
	if !s.Known() {
		return nil, ErrUnknownSizes
	}
	return &Buffers{
		Doubles: make([]float64, s.Double+1),
		Bytes:   make([]byte, s.Byte),
		UInt16s: make([]uint16, s.UInt16),
	}, nil
}

// Sizes reports the payload sizes, clock excluded.
func (b *Buffers) Sizes() Sizes {
	if b == nil || len(b.Doubles) == 0 {
		return UnknownSizes
	}
	return Sizes{Double: len(b.Doubles) - 1, Byte: len(b.Bytes), UInt16: len(b.UInt16s)}
}

func (b *Buffers) Clock() float64 {
	if b == nil || len(b.Doubles) == 0 {
		return 0
	}
	return b.Doubles[0]
}

func (b *Buffers) SetClock(t float64) {
	if b == nil || len(b.Doubles) == 0 {
		return
	}
	b.Doubles[0] = t
}

type region[T any] struct {
	data []T
	off  int
}

func (r *region[T]) take(n int) ([]T, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, ErrBufferOverrun
	}
	s := r.data[r.off : r.off+n]
	r.off += n
	return s, nil
}

func (r *region[T]) remaining() int {
	return len(r.data) - r.off
}

// Writer walks the regions of a Buffers in layout order. The double cursor
// starts after the clock slot.
type Writer struct {
	d region[float64]
	b region[byte]
	u region[uint16]
}

func NewWriter(buf *Buffers) *Writer {
	return &Writer{
		d: region[float64]{data: buf.Doubles, off: 1},
		b: region[byte]{data: buf.Bytes},
		u: region[uint16]{data: buf.UInt16s},
	}
}

// PutDoubles writes v into the next len(v) slots.
func (w *Writer) PutDoubles(v []float64) error {
	dst, err := w.d.take(len(v))
	if err != nil {
		return err
	}
	copy(dst, v)
	return nil
}

func (w *Writer) SkipDoubles(n int) error {
	_, err := w.d.take(n)
	return err
}

func (w *Writer) PutBytes(v []byte) error {
	dst, err := w.b.take(len(v))
	if err != nil {
		return err
	}
	copy(dst, v)
	return nil
}

func (w *Writer) SkipBytes(n int) error {
	_, err := w.b.take(n)
	return err
}

func (w *Writer) PutUInt16s(v []uint16) error {
	dst, err := w.u.take(len(v))
	if err != nil {
		return err
	}
	copy(dst, v)
	return nil
}

func (w *Writer) SkipUInt16s(n int) error {
	_, err := w.u.take(n)
	return err
}

// Remaining reports the unwritten slots of each region.
func (w *Writer) Remaining() Sizes {
	return Sizes{Double: w.d.remaining(), Byte: w.b.remaining(), UInt16: w.u.remaining()}
}

// Reader is the read-side twin of Writer. Returned slices alias the
// underlying buffer.
type Reader struct {
	d region[float64]
	b region[byte]
	u region[uint16]
}

func NewReader(buf *Buffers) *Reader {
	return &Reader{
		d: region[float64]{data: buf.Doubles, off: 1},
		b: region[byte]{data: buf.Bytes},
		u: region[uint16]{data: buf.UInt16s},
	}
}

func (r *Reader) Doubles(n int) ([]float64, error) { return r.d.take(n) }
func (r *Reader) Bytes(n int) ([]byte, error)      { return r.b.take(n) }
func (r *Reader) UInt16s(n int) ([]uint16, error)  { return r.u.take(n) }

func (r *Reader) Remaining() Sizes {
	return Sizes{Double: r.d.remaining(), Byte: r.b.remaining(), UInt16: r.u.remaining()}
}
