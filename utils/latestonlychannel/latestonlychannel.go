// Package latestonlychannel provides a channel pipe that never blocks its
// writer: when the reader falls behind, older values are discarded so the
// reader always receives the most recent one.
package latestonlychannel

// Wrap pipes inputCh to a new output channel, dropping stale values while
// the reader is busy. Sends to inputCh never block. The input channel must
// be closed to release the pipe.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
	MainLoop:
		for {
			latestData, ok := <-inputCh
			if !ok {
				break MainLoop
			}

			// Keep absorbing newer values until the pending one is handed
			// off. This also guarantees the output never sees more values
			// than were written to the input.
		SendLoop:
			for {
				select {
				case outputCh <- latestData:
					break SendLoop
				case updatedData, ok := <-inputCh:
					if !ok {
						break MainLoop
					}

					latestData = updatedData
				}
			}
		}

		close(outputCh)
	}()

	return outputCh
}
