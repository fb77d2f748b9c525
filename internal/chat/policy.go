package chat

// StructuralOverhead is the byte cost of the JSON keys, quotes, colons,
// commas and braces around the three message fields.
const StructuralOverhead = 35

// DefaultTimestampOverhead estimates the length of a client timestamp such as
// "31/12/2022 23:59:59".
const DefaultTimestampOverhead = 20

// MaxTextLength returns the longest text a client should allow so that a
// message with a full-length sender still fits in maxWireSize. The second
// result is false when maxWireSize is not positive, meaning clients should not
// truncate at all.
func MaxTextLength(maxWireSize, maxSenderLength, timestampOverhead int) (int, bool) {
	if maxWireSize <= 0 {
		return 0, false
	}
	n := maxWireSize - maxSenderLength - timestampOverhead - StructuralOverhead
	if n < 0 {
		n = 0
	}
	return n, true
}
