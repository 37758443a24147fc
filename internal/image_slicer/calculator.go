package image_slicer

// Band is one horizontal, full-width region of a source image: slice Index
// covers pixel rows [Y, Y+Height).
type Band struct {
	Index  int
	Y      int
	Height int
}

// Partition splits an image of the given pixel height into contiguous bands
// of sliceHeight rows; the last band takes whatever remains, so it is the
// only one that may be shorter. Deterministic for fixed inputs. Returns nil
// when either argument is not positive.
func Partition(height, sliceHeight int) []Band {
	if height <= 0 || sliceHeight <= 0 {
		return nil
	}

	numBands := (height + sliceHeight - 1) / sliceHeight
	bands := make([]Band, 0, numBands)

	for i := 0; i < numBands; i++ {
		y := i * sliceHeight
		bandHeight := sliceHeight
		if rest := height - y; rest < bandHeight {
			bandHeight = rest
		}
		bands = append(bands, Band{Index: i, Y: y, Height: bandHeight})
	}

	return bands
}
