package fb

// A tone-mapping pixel operation that applies simple Reinhard mapping to the
// accumulated value right before it is converted to the display format. The
// accumulation buffer always keeps linear values.
type ToneMap struct {
	Exposure float32
}

func (op ToneMap) PreAccum(tile *Tile) {}

func (op ToneMap) PostAccum(tile *Tile) {
	for y := tile.Region.Min.Y; y < tile.Region.Max.Y; y++ {
		for x := tile.Region.Min.X; x < tile.Region.Max.X; x++ {
			i := tile.Index(x, y)
			c := tile.Color[i]
			for ch := 0; ch < 3; ch++ {
				v := c[ch] * op.Exposure
				c[ch] = v / (1 + v)
			}
			tile.Color[i] = c
		}
	}
}
