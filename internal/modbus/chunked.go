package modbus

import (
	"github.com/fisaks/uhn-gripper/internal/logging"
)

const MAX_ANALOG_WORDS_PER_READ = uint16(125)

// readWordsChunked reads registers in chunks and concatenates the raw bytes.
// start/count and chunkSize are in registers.
func readWordsChunked(start, count, chunkSize uint16, readFn func(addr, qty uint16) ([]byte, error)) ([]byte, error) {
	if count == 0 {
		return []byte{}, nil
	}
	// Each register = 2 bytes
	buf := make([]byte, 0, int(count)*2)

	var firstErr error
	forEachChunk(start, count, chunkSize, func(addr, qty uint16) bool {
		data, err := readFn(addr, qty)
		if err != nil {
			logging.Error("read regs failed", "addr", addr, "qty", qty, "error", err)
			firstErr = err
			return false // stop on first failure
		}
		buf = append(buf, data...)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return buf, nil
}

// forEachChunk splits [start, start+total) into chunks of size <= chunkSize.
// The callback returns false to abort early; true to continue.
func forEachChunk(start, total, chunkSize uint16, fn func(addr, qty uint16) bool) {
	if total == 0 || chunkSize == 0 {
		return
	}
	left := total
	addr := start
	for left > 0 {
		step := min(left, chunkSize)
		if !fn(addr, step) {
			return
		}
		addr += step
		left -= step
	}
}
