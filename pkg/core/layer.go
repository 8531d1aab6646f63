package core

// Layer names one tier of the lake's on-disk layout.
type Layer string

// Layer constants.
const (
	LayerRaw     Layer = "raw"
	LayerCleaned Layer = "cleaned"
)

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	return l == LayerRaw || l == LayerCleaned
}

// ParseLayer converts a user supplied layer name. The legacy tier names
// "bronze" and "silver" are accepted as aliases.
func ParseLayer(s string) (Layer, bool) {
	switch s {
	case "raw", "bronze":
		return LayerRaw, true
	case "cleaned", "silver":
		return LayerCleaned, true
	}
	return "", false
}
