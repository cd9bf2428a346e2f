// Пакет linescan — потоковое извлечение диапазона строк из текстового файла.
//
// Файл читается построчно с переиспользуемым буфером, целиком в память
// не загружается. Строки заголовка выводятся один раз без изменений,
// строки данных нумеруются с 1 без учёта заголовка.
//
// Для больших файлов поддерживается индекс контрольных точек:
// смещения в байтах начала каждой Stride-й строки данных. Индекс строится
// при загрузке файла (Counter) или попутно при извлечении (Stats.Checkpoints)
// и позволяет начинать чтение с ближайшей точки, а не с начала файла.
package linescan

import "sort"

// Checkpoint — начало строки данных Row по смещению Offset.
type Checkpoint struct {
	// Row — номер строки данных (1-based, без заголовка)
	Row int64 `json:"row"`
	// Offset — смещение первого байта строки от начала файла
	Offset int64 `json:"offset"`
}

// Index — неизменяемый набор контрольных точек файла.
// Точки упорядочены по Row.
type Index struct {
	// HeaderRows — количество строк заголовка, для которого построен индекс
	HeaderRows int
	points     []Checkpoint
}

// NewIndex создаёт индекс из набора точек. Точки сортируются,
// дубликаты по Row отбрасываются.
func NewIndex(headerRows int, points []Checkpoint) *Index {
	cp := make([]Checkpoint, 0, len(points))
	for _, p := range points {
		if p.Row >= 1 && p.Offset >= 0 {
			cp = append(cp, p)
		}
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].Row < cp[j].Row })

	out := cp[:0]
	for _, p := range cp {
		if len(out) > 0 && out[len(out)-1].Row == p.Row {
			continue
		}
		out = append(out, p)
	}
	return &Index{HeaderRows: headerRows, points: out}
}

// Len возвращает количество точек.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.points)
}

// Points возвращает копию точек индекса.
func (ix *Index) Points() []Checkpoint {
	if ix == nil {
		return nil
	}
	out := make([]Checkpoint, len(ix.points))
	copy(out, ix.points)
	return out
}

// Nearest возвращает ближайшую точку с Row <= row.
func (ix *Index) Nearest(row int64) (Checkpoint, bool) {
	if ix == nil || len(ix.points) == 0 {
		return Checkpoint{}, false
	}
	i := sort.Search(len(ix.points), func(i int) bool { return ix.points[i].Row > row })
	if i == 0 {
		return Checkpoint{}, false
	}
	return ix.points[i-1], true
}

// Merge возвращает новый индекс с объединением точек.
// Исходный индекс не изменяется. nil-индекс допустим.
func (ix *Index) Merge(headerRows int, points []Checkpoint) *Index {
	if len(points) == 0 && ix != nil {
		return ix
	}
	all := make([]Checkpoint, 0, ix.Len()+len(points))
	if ix != nil {
		all = append(all, ix.points...)
	}
	all = append(all, points...)
	return NewIndex(headerRows, all)
}
