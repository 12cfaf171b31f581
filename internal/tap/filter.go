package tap

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// etherTypeOffset is where the ethertype sits in the capture pseudo header.
const etherTypeOffset = 16

// CompileEtherTypeFilter builds a classic BPF program accepting frames whose
// ethertype is one of etherTypes, truncated to snapLen.
func CompileEtherTypeFilter(etherTypes []uint16, snapLen int) ([]bpf.Instruction, error) {
	if len(etherTypes) == 0 {
		return nil, fmt.Errorf("empty ethertype list")
	}
	if len(etherTypes) > 255 {
		return nil, fmt.Errorf("too many ethertypes: %d", len(etherTypes))
	}

	n := len(etherTypes)
	prog := make([]bpf.Instruction, 0, n+3)
	prog = append(prog, bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2})
	for i, et := range etherTypes {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(et), SkipTrue: uint8(n - i)})
	}
	prog = append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: uint32(snapLen)},
	)

	if _, err := bpf.Assemble(prog); err != nil {
		return nil, fmt.Errorf("failed to assemble BPF filter: %w", err)
	}
	return prog, nil
}
