package opcodes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDecodeTotality walks every defined opcode (skipping the handful of
// officially reserved/undefined bytes) and checks nextPC - pc matches the
// table width, per the decoder totality property.
func TestDecodeTotality(t *testing.T) {
	for op := 0; op < 256; op++ {
		info := table[op]
		if info.mnemonic == "" {
			continue
		}
		if info.width < 0 {
			continue // tableswitch/lookupswitch/wide: covered by dedicated tests below
		}
		code := make([]byte, info.width+4) // pad so any operand bytes are in range
		code[0] = byte(op)
		instr, next, err := Decode(code, 0)
		require.NoErrorf(t, err, "opcode 0x%02X (%s)", op, info.mnemonic)
		require.Equalf(t, info.width, next, "opcode 0x%02X (%s) width mismatch", op, info.mnemonic)
		require.Equal(t, info.mnemonic, instr.Mnemonic)
		require.Equal(t, uint8(op), instr.Opcode)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	// 0xba is invokedynamic now, but 0xcb..0xfd are unassigned in JVMS §6.
	_, _, err := Decode([]byte{0xCB}, 0)
	require.Error(t, err)
}

func TestDecodeOutOfRange(t *testing.T) {
	_, _, err := Decode([]byte{}, 0)
	require.Error(t, err)

	_, _, err = Decode([]byte{0x11}, 0) // sipush needs 3 bytes, only 1 present
	require.Error(t, err)
}

func TestWideIload(t *testing.T) {
	code := []byte{OpWide, 0x15, 0x01, 0x02}
	instr, next, err := Decode(code, 0)
	require.NoError(t, err)
	require.Equal(t, 4, next)
	require.True(t, instr.Wide)
	require.Equal(t, "iload", instr.Mnemonic)
	require.Equal(t, []byte{0x01, 0x02}, instr.Operands)
}

func TestWideIinc(t *testing.T) {
	code := []byte{OpWide, OpIinc, 0x00, 0x01, 0xFF, 0xFF}
	instr, next, err := Decode(code, 0)
	require.NoError(t, err)
	require.Equal(t, 6, next)
	require.True(t, instr.Wide)
	require.Equal(t, "iinc", instr.Mnemonic)
	require.Equal(t, []byte{0x00, 0x01, 0xFF, 0xFF}, instr.Operands)
}

func TestWideRejectsIneligibleOpcode(t *testing.T) {
	code := []byte{OpWide, 0x60} // iadd is not wide-eligible
	_, _, err := Decode(code, 0)
	require.Error(t, err)
}

// TestTableswitchPadding checks the 4-byte alignment is computed relative
// to the position of the opcode byte within the method, not relative to
// the start of the operand slice.
func TestTableswitchPadding(t *testing.T) {
	// opcode at pc=1: two bytes of padding are needed to reach a 4-byte
	// boundary at offset 4.
	code := make([]byte, 1+1+2+12) // leading pad byte, opcode, 2 pad, default/low/high
	code[1] = OpTableswitch
	// default=0, low=5, high=6 -> two jump offsets
	be32put(code[4:8], 0)
	be32put(code[8:12], 5)
	be32put(code[12:16], 6)
	full := append(code, make([]byte, 8)...) // room for 2 jump offsets
	instr, next, err := Decode(full, 1)
	require.NoError(t, err)
	require.Equal(t, "tableswitch", instr.Mnemonic)
	require.Equal(t, 1+3+12+8, next)
}

func TestLookupswitchPadding(t *testing.T) {
	code := make([]byte, 4) // pc=0, opcode at 0, pad=3 to reach offset 4
	code[0] = OpLookupswitch
	header := make([]byte, 8)
	be32put(header[0:4], 0) // default
	be32put(header[4:8], 2) // npairs=2
	full := append(code, header...)
	full = append(full, make([]byte, 16)...) // 2 match/offset pairs
	instr, next, err := Decode(full, 0)
	require.NoError(t, err)
	require.Equal(t, "lookupswitch", instr.Mnemonic)
	require.Equal(t, 4+8+16, next)
}

func be32put(b []byte, v int32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
