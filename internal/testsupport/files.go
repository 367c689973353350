package testsupport

// ClipBytes returns size bytes that open with an ISO-BMFF ftyp box, enough
// to pass clip signature validation.
func ClipBytes(size int) []byte {
	header := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}
	if size < len(header) {
		size = len(header)
	}
	data := make([]byte, size)
	copy(data, header)
	for i := len(header); i < size; i++ {
		data[i] = 0x42
	}
	return data
}
