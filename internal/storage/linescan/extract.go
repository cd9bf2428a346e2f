package linescan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// readBufferSize — размер буфера чтения.
const readBufferSize = 64 * 1024

// ErrInvalidRange — некорректный диапазон строк.
var ErrInvalidRange = errors.New("некорректный диапазон строк")

// Options — параметры извлечения.
type Options struct {
	// HeaderRows — количество строк заголовка
	HeaderRows int
	// Start, End — диапазон строк данных (1-based, включительно)
	Start int64
	End   int64
	// Index — индекс контрольных точек (опционально)
	Index *Index
	// Stride — шаг записи контрольных точек в Stats, 0 — не записывать
	Stride int64
}

// Stats — результат извлечения.
type Stats struct {
	// HeaderLines — выведено строк заголовка
	HeaderLines int
	// DataLines — выведено строк данных
	DataLines int64
	// Bytes — выведено байт
	Bytes int64
	// Checkpoints — точки, встреченные при сканировании
	Checkpoints []Checkpoint
	// Seeked — чтение начато с контрольной точки индекса
	Seeked bool
}

// lineReader — построчное чтение с учётом смещения.
type lineReader struct {
	src io.ReadSeeker
	br  *bufio.Reader
	pos int64
}

// next читает одну строку. Если dst не nil, строка копируется в него
// по частям, без накопления в памяти. Возвращает длину строки в байтах;
// 0 означает конец файла.
func (r *lineReader) next(dst io.Writer) (int64, error) {
	var n int64
	for {
		chunk, err := r.br.ReadSlice('\n')
		if len(chunk) > 0 {
			n += int64(len(chunk))
			if dst != nil {
				if _, werr := dst.Write(chunk); werr != nil {
					return n, fmt.Errorf("запись строки: %w", werr)
				}
			}
		}
		switch {
		case err == nil:
			r.pos += n
			return n, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			r.pos += n
			return n, nil
		default:
			return n, fmt.Errorf("чтение строки: %w", err)
		}
	}
}

// seek переставляет чтение на абсолютное смещение.
func (r *lineReader) seek(offset int64) error {
	if _, err := r.src.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("позиционирование на %d: %w", offset, err)
	}
	r.br.Reset(r.src)
	r.pos = offset
	return nil
}

// countingWriter считает выведенные байты.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Extract записывает в w строки заголовка и строки данных диапазона
// [opts.Start, opts.End]. Чтение прекращается после строки End.
// Вывод не зависит от наличия индекса.
func Extract(src io.ReadSeeker, w io.Writer, opts Options) (stats Stats, err error) {
	if opts.HeaderRows < 0 || opts.Start < 1 || opts.End < opts.Start {
		return stats, fmt.Errorf("%w: header=%d, %d-%d", ErrInvalidRange, opts.HeaderRows, opts.Start, opts.End)
	}

	out := &countingWriter{w: w}
	defer func() { stats.Bytes = out.n }()

	r := &lineReader{src: src}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return stats, fmt.Errorf("позиционирование в начало: %w", err)
	}
	r.br = bufio.NewReaderSize(src, readBufferSize)

	// Заголовок выводится один раз, до любых строк данных
	for stats.HeaderLines < opts.HeaderRows {
		n, err := r.next(out)
		if err != nil {
			return stats, err
		}
		if n == 0 {
			return stats, nil
		}
		stats.HeaderLines++
	}

	// row — номер последней прочитанной строки данных
	var row int64
	if opts.Index != nil && opts.Index.HeaderRows == opts.HeaderRows {
		if cp, ok := opts.Index.Nearest(opts.Start); ok && cp.Offset > r.pos {
			if err := r.seek(cp.Offset); err != nil {
				return stats, err
			}
			row = cp.Row - 1
			stats.Seeked = true
		}
	}

	for row < opts.End {
		next := row + 1
		if opts.Stride > 0 && (next-1)%opts.Stride == 0 {
			stats.Checkpoints = append(stats.Checkpoints, Checkpoint{Row: next, Offset: r.pos})
		}

		var dst io.Writer
		if next >= opts.Start {
			dst = out
		}
		n, err := r.next(dst)
		if err != nil {
			return stats, err
		}
		if n == 0 {
			// Точка за концом файла не является началом строки
			if k := len(stats.Checkpoints); k > 0 && stats.Checkpoints[k-1].Row == next {
				stats.Checkpoints = stats.Checkpoints[:k-1]
			}
			break
		}
		row = next
		if dst != nil {
			stats.DataLines++
		}
	}

	return stats, nil
}
