package penut

// Fuzz is the legacy go-fuzz entry point (github.com/dvyukov/go-fuzz
// convention, predating testing.F): it reports 1 when data parses and
// re-emits without panicking, 0 otherwise.
func Fuzz(data []byte) int {
	img, err := ParseBytes(data, nil)
	if err != nil {
		return 0
	}
	var buf writeSeekBuffer
	if err := img.Write(&buf); err != nil {
		return 0
	}
	return 1
}
