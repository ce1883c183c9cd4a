package imposition

// Assignment says which input page an output page shows and whether it
// shows the first half (left or bottom-left origin) of it.
type Assignment struct {
	Input int
	First bool
}

// Resolve maps outputIndex in [0, 2*total) to its input page.
//
// Natural: output 2k and 2k+1 show the first and second half of page k.
// Booklet: the first total outputs walk the input forwards and the rest walk
// it backwards, with first set on odd output indices.
func Resolve(outputIndex, total int, order Order) Assignment {
	if order == Booklet {
		input := outputIndex
		if outputIndex >= total {
			input = 2*total - outputIndex - 1
		}
		return Assignment{Input: input, First: outputIndex%2 == 1}
	}
	return Assignment{Input: outputIndex / 2, First: outputIndex%2 == 0}
}

// Plan resolves every output page of a run over total input pages.
func Plan(total int, order Order) []Assignment {
	if total <= 0 {
		return nil
	}
	out := make([]Assignment, 2*total)
	for i := range out {
		out[i] = Resolve(i, total, order)
	}
	return out
}
