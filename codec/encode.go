package codec

// EncodeAgentReady encodes the handshake reply carrying the initial grid size.
func EncodeAgentReady(width, height int) []byte {
	return EncodeInts(width, height)
}

// EncodeInput encodes committed text as raw UTF-8.
func EncodeInput(text string) []byte {
	return []byte(text)
}

// EncodeInputMarked encodes text still being composed by an input method.
func EncodeInputMarked(text string) []byte {
	return []byte(text)
}

// EncodeDelete encodes the number of characters to delete.
func EncodeDelete(count int) []byte {
	return EncodeInts(count)
}

// EncodeResize encodes a requested grid size.
func EncodeResize(width, height int) []byte {
	return EncodeInts(width, height)
}

// EncodeFocusGained encodes a focus change as one bool word.
func EncodeFocusGained(gained bool) []byte {
	return EncodeBool(gained)
}

// EncodeScroll encodes a scroll wheel event at the given cell.
func EncodeScroll(horizontal, vertical, row, column int) []byte {
	return EncodeInts(horizontal, vertical, row, column)
}
