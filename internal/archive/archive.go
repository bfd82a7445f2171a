// Package archive enumerates and streams the members of an uploaded ZIP archive,
// enforcing uncompressed size ceilings on each member and on the archive as a whole.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/metal-toolbox/pms/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/korean"
)

const (
	DefaultMaxEntryBytes   int64 = 64 << 20
	DefaultMaxArchiveBytes int64 = 512 << 20
)

// Limits are the uncompressed size ceilings applied while reading members.
type Limits struct {
	// MaxEntryBytes is the uncompressed size ceiling for a single member.
	MaxEntryBytes int64
	// MaxArchiveBytes is the ceiling on the uncompressed bytes read across all members.
	MaxArchiveBytes int64
}

// DefaultLimits returns the default size ceilings.
func DefaultLimits() Limits {
	return Limits{MaxEntryBytes: DefaultMaxEntryBytes, MaxArchiveBytes: DefaultMaxArchiveBytes}
}

func (l Limits) withDefaults() Limits {
	if l.MaxEntryBytes <= 0 {
		l.MaxEntryBytes = DefaultMaxEntryBytes
	}

	if l.MaxArchiveBytes <= 0 {
		l.MaxArchiveBytes = DefaultMaxArchiveBytes
	}

	return l
}

// Reader yields the members of an archive in archive order.
//
// A Reader is not safe for concurrent use, members are to be read sequentially.
type Reader struct {
	zr     *zip.Reader
	limits Limits
	next   int
	// consumed is the count of uncompressed bytes read from all members so far.
	consumed int64
}

// Open parses the archive central directory.
//
// An archive whose container structure cannot be parsed returns model.ErrArchiveCorrupt.
func Open(r io.ReaderAt, size int64, limits Limits) (*Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		// member paths are never written to disk, insecure paths are of no consequence here.
		if !errors.Is(err, zip.ErrInsecurePath) || zr == nil {
			return nil, errors.Wrap(model.ErrArchiveCorrupt, err.Error())
		}
	}

	return &Reader{zr: zr, limits: limits.withDefaults()}, nil
}

// Members returns the count of file members in the archive, directories excluded.
func (r *Reader) Members() int {
	var count int

	for _, f := range r.zr.File {
		if !f.FileInfo().IsDir() {
			count++
		}
	}

	return count
}

// Consumed returns the uncompressed bytes read across members so far.
func (r *Reader) Consumed() int64 {
	return r.consumed
}

// Next returns the next file member, io.EOF is returned once all members are returned.
func (r *Reader) Next() (*Entry, error) {
	for r.next < len(r.zr.File) {
		f := r.zr.File[r.next]
		r.next++

		if f.FileInfo().IsDir() {
			continue
		}

		return &Entry{Name: memberName(f), DeclaredSize: f.UncompressedSize64, file: f, reader: r}, nil
	}

	return nil, io.EOF
}

// Entry is a single archive member.
type Entry struct {
	// Name is the member path within the archive.
	Name string
	// DeclaredSize is the uncompressed size as declared in the central directory,
	// the actual size is enforced while reading.
	DeclaredSize uint64

	file   *zip.File
	reader *Reader
}

// Open returns a reader over the uncompressed member bytes.
//
// Reading past the per entry or the cumulative ceiling returns model.ErrEntryTooLarge.
func (e *Entry) Open() (io.ReadCloser, error) {
	limit, err := e.limit()
	if err != nil {
		return nil, err
	}

	rc, err := e.file.Open()
	if err != nil {
		return nil, errors.Wrap(model.ErrParse, e.Name+": "+err.Error())
	}

	return &boundedReader{rc: rc, entry: e, remaining: limit}, nil
}

// Bytes reads the complete uncompressed member.
func (e *Entry) Bytes() ([]byte, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}

	defer rc.Close()

	buf := bytes.NewBuffer(make([]byte, 0, initialBufSize(e.DeclaredSize)))
	if _, err := io.Copy(buf, rc); err != nil {
		if errors.Is(err, model.ErrEntryTooLarge) {
			return nil, err
		}

		return nil, errors.Wrap(model.ErrParse, e.Name+": "+err.Error())
	}

	return buf.Bytes(), nil
}

// limit returns the count of bytes this entry may produce.
func (e *Entry) limit() (int64, error) {
	limits := e.reader.limits
	remaining := limits.MaxArchiveBytes - e.reader.consumed

	if e.DeclaredSize > uint64(limits.MaxEntryBytes) {
		return 0, errors.Wrap(
			model.ErrEntryTooLarge,
			fmt.Sprintf("%s: declared size %d exceeds entry limit %d", e.Name, e.DeclaredSize, limits.MaxEntryBytes),
		)
	}

	if remaining <= 0 || e.DeclaredSize > uint64(remaining) {
		return 0, errors.Wrap(
			model.ErrEntryTooLarge,
			fmt.Sprintf("%s: archive limit of %d uncompressed bytes reached", e.Name, limits.MaxArchiveBytes),
		)
	}

	if remaining < limits.MaxEntryBytes {
		return remaining, nil
	}

	return limits.MaxEntryBytes, nil
}

// boundedReader counts the bytes read from a member, failing once the limit is passed.
type boundedReader struct {
	rc        io.ReadCloser
	entry     *Entry
	remaining int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	// read one byte past the limit to find out if the member exceeds it.
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}

	n, err := b.rc.Read(p)
	b.entry.reader.consumed += int64(n)

	if int64(n) > b.remaining {
		b.remaining = 0
		return 0, errors.Wrap(
			model.ErrEntryTooLarge,
			b.entry.Name+": uncompressed size exceeds the declared limits",
		)
	}

	b.remaining -= int64(n)

	// the zip reader reports a member inflating past its declared size as a format error.
	if errors.Is(err, zip.ErrFormat) {
		return n, errors.Wrap(model.ErrEntryTooLarge, b.entry.Name+": uncompressed size exceeds the declared size")
	}

	return n, err
}

func (b *boundedReader) Close() error {
	return b.rc.Close()
}

func initialBufSize(declared uint64) int {
	const maxInitial = 1 << 20

	if declared > maxInitial {
		return maxInitial
	}

	return int(declared)
}

// memberName returns the member name as UTF-8.
//
// Archives created on Korean Windows hosts carry EUC-KR (CP949) encoded names
// without the UTF-8 flag set.
func memberName(f *zip.File) string {
	if utf8.ValidString(f.Name) {
		return f.Name
	}

	decoded, err := korean.EUCKR.NewDecoder().String(f.Name)
	if err != nil {
		return f.Name
	}

	return decoded
}
