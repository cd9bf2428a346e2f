package linescan

import "bytes"

// Counter — io.Writer, подсчитывающий строки проходящего через него потока.
// Используется при загрузке исходного файла: total_rows и индекс
// контрольных точек вычисляются за один проход вместе с записью на диск.
type Counter struct {
	headerRows int
	stride     int64

	offset int64
	lines  int64
	// open — внутри незавершённой строки
	open   bool
	points []Checkpoint
}

// NewCounter создаёт счётчик. stride — шаг контрольных точек
// в строках данных, 0 отключает построение индекса.
func NewCounter(headerRows int, stride int64) *Counter {
	return &Counter{headerRows: headerRows, stride: stride}
}

// Write реализует io.Writer. Никогда не возвращает ошибку.
func (c *Counter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if !c.open {
			c.open = true
			c.mark()
		}
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			c.offset += int64(len(p))
			break
		}
		c.offset += int64(i + 1)
		c.lines++
		c.open = false
		p = p[i+1:]
	}
	return n, nil
}

// mark записывает контрольную точку в начале строки, если она кратна шагу.
func (c *Counter) mark() {
	row := c.lines + 1 - int64(c.headerRows)
	if c.stride > 0 && row >= 1 && (row-1)%c.stride == 0 {
		c.points = append(c.points, Checkpoint{Row: row, Offset: c.offset})
	}
}

// Lines возвращает общее количество строк, включая последнюю без перевода строки.
func (c *Counter) Lines() int64 {
	if c.open {
		return c.lines + 1
	}
	return c.lines
}

// DataRows возвращает количество строк данных: max(0, Lines - headerRows).
func (c *Counter) DataRows() int64 {
	return max(0, c.Lines()-int64(c.headerRows))
}

// Bytes возвращает количество записанных байт.
func (c *Counter) Bytes() int64 {
	return c.offset
}

// Index возвращает индекс контрольных точек (nil, если шаг не задан).
func (c *Counter) Index() *Index {
	if c.stride <= 0 {
		return nil
	}
	return NewIndex(c.headerRows, c.points)
}
