package dump

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/opcode"
)

func TestFormatRendersPrototypeAndConstRef(t *testing.T) {
	d := &bc.Dump{
		ChunkName: "chunk",
		Prototypes: []*bc.Prototype{
			{
				Number:    0,
				ArgCount:  0,
				FrameSize: 2,
				Constants: []bc.ConstRef{{Ref: "print"}},
				Instructions: []bc.Instruction{
					{Code: opcode.FUNCF, Addr: 0},
					{Code: opcode.GGET, A: 0, CD: 0, HasA: true, HasCD: true, Addr: 1},
				},
			},
		},
	}
	out := Format(d)
	assert.Contains(t, out, "prototype_0 = Prototype(")
	assert.Contains(t, out, `const_ref_0 = ConstRef("print")`)
	assert.Contains(t, out, "Ins.GGET(0, const_ref_0)")
	assert.Contains(t, out, `Dump(chunk_name="chunk"`)
}
