package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/annel0/worldstream/internal/logging"
	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
)

// Формат файла региона:
//
//	[0:32)    заголовок: "WREG", версия u16, span u16, X i32, Y i32, время создания u64
//	[32:4128) индекс: RegionSlots записей по 16 байт (offset u32, length u32, xxhash64)
//	[4128:)   полезные нагрузки, дописываемые в конец
//
// Нулевая длина в индексе означает отсутствие чанка.
const (
	regionMagic      = "WREG"
	regionVersion    = 1
	regionHeaderSize = 32
	indexEntrySize   = 16
	regionDataStart  = regionHeaderSize + RegionSlots*indexEntrySize
)

type indexEntry struct {
	Offset   uint32
	Length   uint32
	Checksum uint64
}

func (e indexEntry) empty() bool {
	return e.Length == 0
}

// RegionFile контейнер региона в одном файле.
// Полезные нагрузки всегда дописываются в конец, индекс обновляется только
// после fsync данных, поэтому оборванная запись оставляет прежнюю версию чанка.
type RegionFile struct {
	path             string
	region           RegionIndex
	file             *os.File
	entries          [RegionSlots]indexEntry
	pending          map[int]indexEntry
	end              int64
	compactionFactor float64
	logger           *logging.Logger
}

// OpenRegionFile открывает или создаёт файл региона
func OpenRegionFile(path string, idx RegionIndex, compactionFactor float64, logger *logging.Logger) (*RegionFile, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	rf := &RegionFile{
		path:             path,
		region:           idx,
		file:             file,
		pending:          make(map[int]indexEntry),
		compactionFactor: compactionFactor,
		logger:           logger,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		err = rf.initialize()
	} else {
		err = rf.loadIndex(info.Size())
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	return rf, nil
}

func (r *RegionFile) initialize() error {
	buf := make([]byte, regionDataStart)
	writeHeader(buf, r.region)

	if _, err := r.file.WriteAt(buf, 0); err != nil {
		return err
	}
	r.end = regionDataStart
	return r.file.Sync()
}

func writeHeader(buf []byte, idx RegionIndex) {
	copy(buf[0:4], regionMagic)
	binary.LittleEndian.PutUint16(buf[4:6], regionVersion)
	binary.LittleEndian.PutUint16(buf[6:8], RegionSpan)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(int32(idx.X)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(idx.Y)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(time.Now().Unix()))
}

func (r *RegionFile) loadIndex(size int64) error {
	if size < regionDataStart {
		return fmt.Errorf("%w: файл короче заголовка (%d байт)", ErrCorrupt, size)
	}

	buf := make([]byte, regionDataStart)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		return err
	}

	if string(buf[0:4]) != regionMagic {
		return fmt.Errorf("%w: неверная сигнатура %q", ErrCorrupt, buf[0:4])
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != regionVersion {
		return fmt.Errorf("%w: неподдерживаемая версия %d", ErrCorrupt, v)
	}
	if span := binary.LittleEndian.Uint16(buf[6:8]); span != RegionSpan {
		return fmt.Errorf("%w: размер региона %d", ErrCorrupt, span)
	}
	x := int(int32(binary.LittleEndian.Uint32(buf[8:12])))
	y := int(int32(binary.LittleEndian.Uint32(buf[12:16])))
	if x != r.region.X || y != r.region.Y {
		return fmt.Errorf("%w: файл принадлежит региону (%d,%d)", ErrCorrupt, x, y)
	}

	for slot := 0; slot < RegionSlots; slot++ {
		off := regionHeaderSize + slot*indexEntrySize
		r.entries[slot] = indexEntry{
			Offset:   binary.LittleEndian.Uint32(buf[off : off+4]),
			Length:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			Checksum: binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
	}

	// Хвост от оборванной записи остаётся мусором до следующего сжатия
	r.end = size
	return nil
}

func (r *RegionFile) entry(slot int) indexEntry {
	if e, ok := r.pending[slot]; ok {
		return e
	}
	return r.entries[slot]
}

// Read читает полезную нагрузку слота и проверяет контрольную сумму
func (r *RegionFile) Read(slot int) ([]byte, bool, error) {
	if r.file == nil {
		return nil, false, ErrClosed
	}

	e := r.entry(slot)
	if e.empty() {
		return nil, false, nil
	}
	if int64(e.Offset) < regionDataStart || int64(e.Offset)+int64(e.Length) > r.end {
		return nil, false, fmt.Errorf("%w: слот %d указывает за пределы файла", ErrCorrupt, slot)
	}

	buf := make([]byte, e.Length)
	if _, err := r.file.ReadAt(buf, int64(e.Offset)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("%w: слот %d обрезан", ErrCorrupt, slot)
		}
		return nil, false, err
	}
	if xxhash.Sum64(buf) != e.Checksum {
		return nil, false, fmt.Errorf("%w: контрольная сумма слота %d", ErrCorrupt, slot)
	}

	return buf, true, nil
}

// Write дописывает полезную нагрузку в конец файла. Индекс обновится при Sync.
func (r *RegionFile) Write(slot int, payload []byte) error {
	if r.file == nil {
		return ErrClosed
	}
	if len(payload) == 0 {
		return fmt.Errorf("пустая полезная нагрузка для слота %d", slot)
	}
	if r.end+int64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("файл региона превысил %s", humanize.Bytes(math.MaxUint32))
	}

	if _, err := r.file.WriteAt(payload, r.end); err != nil {
		return err
	}

	r.pending[slot] = indexEntry{
		Offset:   uint32(r.end),
		Length:   uint32(len(payload)),
		Checksum: xxhash.Sum64(payload),
	}
	r.end += int64(len(payload))
	return nil
}

// Sync фиксирует данные, затем записывает индекс
func (r *RegionFile) Sync() error {
	if r.file == nil {
		return ErrClosed
	}
	if len(r.pending) == 0 {
		return nil
	}

	if err := r.file.Sync(); err != nil {
		return err
	}

	buf := make([]byte, indexEntrySize)
	for slot, e := range r.pending {
		binary.LittleEndian.PutUint32(buf[0:4], e.Offset)
		binary.LittleEndian.PutUint32(buf[4:8], e.Length)
		binary.LittleEndian.PutUint64(buf[8:16], e.Checksum)
		if _, err := r.file.WriteAt(buf, int64(regionHeaderSize+slot*indexEntrySize)); err != nil {
			return err
		}
	}
	if err := r.file.Sync(); err != nil {
		return err
	}

	for slot, e := range r.pending {
		r.entries[slot] = e
	}
	r.pending = make(map[int]indexEntry)
	return nil
}

// Len количество сохранённых чанков
func (r *RegionFile) Len() int {
	n := 0
	for slot := range r.entries {
		if !r.entry(slot).empty() {
			n++
		}
	}
	return n
}

// Size размер файла вместе с мусором
func (r *RegionFile) Size() int64 {
	return r.end
}

// LiveBytes объём актуальных полезных нагрузок
func (r *RegionFile) LiveBytes() int64 {
	var live int64
	for slot := range r.entries {
		live += int64(r.entry(slot).Length)
	}
	return live
}

// NeedsCompaction истинно, когда мусор превышает порог
func (r *RegionFile) NeedsCompaction() bool {
	if r.compactionFactor <= 0 {
		return false
	}
	live := r.LiveBytes()
	if live == 0 {
		return false
	}
	return float64(r.end-regionDataStart) > float64(live)*r.compactionFactor
}

// Compact переписывает файл, оставляя только актуальные нагрузки.
// Новый файл пишется рядом и атомарно заменяет старый.
func (r *RegionFile) Compact() error {
	if err := r.Sync(); err != nil {
		return err
	}

	before := r.end
	tmpPath := r.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	header := make([]byte, regionDataStart)
	writeHeader(header, r.region)

	var fresh [RegionSlots]indexEntry
	offset := int64(regionDataStart)
	for slot, e := range r.entries {
		if e.empty() {
			continue
		}
		payload, _, err := r.Read(slot)
		if err != nil {
			cleanup()
			return err
		}
		if _, err := tmp.WriteAt(payload, offset); err != nil {
			cleanup()
			return err
		}
		fresh[slot] = indexEntry{Offset: uint32(offset), Length: e.Length, Checksum: e.Checksum}
		off := regionHeaderSize + slot*indexEntrySize
		binary.LittleEndian.PutUint32(header[off:off+4], fresh[slot].Offset)
		binary.LittleEndian.PutUint32(header[off+4:off+8], fresh[slot].Length)
		binary.LittleEndian.PutUint64(header[off+8:off+16], fresh[slot].Checksum)
		offset += int64(e.Length)
	}

	if _, err := tmp.WriteAt(header, 0); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		cleanup()
		return err
	}

	r.file.Close()
	r.file = tmp
	r.entries = fresh
	r.end = offset

	r.logger.Debug("регион %s сжат: %s → %s", r.region, humanize.Bytes(uint64(before)), humanize.Bytes(uint64(offset)))
	return nil
}

// Close синхронизирует и, если нужно, сжимает файл
func (r *RegionFile) Close() error {
	if r.file == nil {
		return nil
	}
	if err := r.Sync(); err != nil {
		return err
	}

	if r.NeedsCompaction() {
		if err := r.Compact(); err != nil {
			r.logger.Warn("не удалось сжать регион %s: %v", r.region, err)
		}
	}

	err := r.file.Close()
	r.file = nil
	return err
}

// FileBackend хранит каждый регион карты в отдельном файле каталога
type FileBackend struct {
	dir              string
	compactionFactor float64
	logger           *logging.Logger
}

// NewFileBackend создаёт каталог регионов, если его нет
func NewFileBackend(dir string, compactionFactor float64, logger *logging.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога регионов: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileBackend{dir: dir, compactionFactor: compactionFactor, logger: logger}, nil
}

func (b *FileBackend) path(idx RegionIndex) string {
	return filepath.Join(b.dir, idx.FileName())
}

func (b *FileBackend) Open(idx RegionIndex) (Container, error) {
	rf, err := OpenRegionFile(b.path(idx), idx, b.compactionFactor, b.logger)
	if err != nil {
		return nil, err
	}
	b.logger.Trace("открыт %s (%s)", idx.FileName(), humanize.Bytes(uint64(rf.Size())))
	return rf, nil
}

func (b *FileBackend) Exists(idx RegionIndex) (bool, error) {
	_, err := os.Stat(b.path(idx))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *FileBackend) Remove(idx RegionIndex) error {
	err := os.Remove(b.path(idx))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) Kind() string {
	return "file"
}
