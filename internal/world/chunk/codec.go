package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	// payloadVersion версия бинарного формата клеток
	payloadVersion byte = 1
	rawSize             = 1 + Area*2
)

// ErrBadPayload возвращается, если полезная нагрузка чанка не разбирается
var ErrBadPayload = errors.New("некорректные данные чанка")

// Codec сериализует чанки: версия + клетки little-endian, затем zstd.
// Encoder и decoder переиспользуются, поэтому Codec не безопасен для параллельного Encode.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec создаёт кодек с уровнем сжатия zstd (1..4, 0 = по умолчанию)
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	if level > 0 {
		if level > int(zstd.SpeedBestCompression) {
			level = int(zstd.SpeedBestCompression)
		}
		encLevel = zstd.EncoderLevel(level)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("создание zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("создание zstd decoder: %w", err)
	}

	return &Codec{encoder: enc, decoder: dec}, nil
}

// Encode сериализует клетки чанка. Индекс не пишется: его знает регион.
func (c *Codec) Encode(ch *Chunk) ([]byte, error) {
	if ch == nil {
		return nil, fmt.Errorf("encode: nil chunk")
	}

	raw := make([]byte, rawSize)
	raw[0] = payloadVersion
	for i, cell := range ch.Cells {
		binary.LittleEndian.PutUint16(raw[1+i*2:], uint16(cell))
	}

	return c.encoder.EncodeAll(raw, make([]byte, 0, 64)), nil
}

// Decode восстанавливает чанк из полезной нагрузки
func (c *Codec) Decode(idx Index, payload []byte) (*Chunk, error) {
	raw, err := c.decoder.DecodeAll(payload, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, idx, err)
	}
	if len(raw) != rawSize {
		return nil, fmt.Errorf("%w: %s: размер %d, ожидалось %d", ErrBadPayload, idx, len(raw), rawSize)
	}
	if raw[0] != payloadVersion {
		return nil, fmt.Errorf("%w: %s: версия %d", ErrBadPayload, idx, raw[0])
	}

	ch := New(idx)
	for i := range ch.Cells {
		ch.Cells[i] = Cell(binary.LittleEndian.Uint16(raw[1+i*2:]))
	}
	return ch, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
