package pixel

import (
	"runtime"
	"sync"
)

// minRowsPerBand keeps tiny images on a single goroutine.
const minRowsPerBand = 16

// ParallelRows calls fn with contiguous, non-overlapping row ranges [y0, y1) covering
// [0, height) and blocks until every call returns. fn must only write rows in its range.
func ParallelRows(height int, fn func(y0, y1 int)) {
	if height <= 0 {
		return
	}

	bands := runtime.GOMAXPROCS(0)
	if maxBands := (height + minRowsPerBand - 1) / minRowsPerBand; bands > maxBands {
		bands = maxBands
	}
	if bands <= 1 {
		fn(0, height)
		return
	}

	rowsPerBand := (height + bands - 1) / bands

	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += rowsPerBand {
		y1 := y0 + rowsPerBand
		if y1 > height {
			y1 = height
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
