// Package channelmerge combines two channels into one that yields the
// latest pair of values whenever either side updates.
package channelmerge

type Merged[A any, B any] struct {
	A A
	B B
}

// Merge emits a Merged value each time a or b produces one, carrying the
// most recent value seen from the other channel. Nothing is emitted until
// both channels have produced their first value, and the output closes once
// either input closes.
func Merge[A any, B any](a <-chan A, b <-chan B) <-chan Merged[A, B] {
	outputCh := make(chan Merged[A, B])

	go func() {
		currentA, ok := <-a
		if !ok {
			close(outputCh)
			return
		}

		currentB, ok := <-b
		if !ok {
			close(outputCh)
			return
		}

		outputCh <- Merged[A, B]{
			A: currentA,
			B: currentB,
		}

	MainLoop:
		for {
			select {
			case newA, ok := <-a:
				if !ok {
					break MainLoop
				}
				currentA = newA
			case newB, ok := <-b:
				if !ok {
					break MainLoop
				}
				currentB = newB
			}

			outputCh <- Merged[A, B]{
				A: currentA,
				B: currentB,
			}
		}

		close(outputCh)
	}()

	return outputCh
}
