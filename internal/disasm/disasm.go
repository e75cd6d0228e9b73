// Package disasm is the javap-style disassembler spec.md's Purpose & Scope
// names as a visible sample: an external collaborator over
// internal/opcodes' decode table, rendering one line per decoded
// instruction with its constant-pool operand resolved to a readable
// reference rather than a raw index.
package disasm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/opcodes"
)

// DisassembleClass renders cf's class name, minor/major version, field
// declarations, and the decoded instruction stream of every method with a
// Code attribute (no constant-pool listing is printed), in the spirit
// of `javap -c` (original_source/tools/javap's per-instruction translation,
// scaled down to spec.md's "decode table" scope — no StackMapTable or
// LocalVariableTable rendering).
func DisassembleClass(cf *classfile.ClassFile) (string, error) {
	var b strings.Builder

	name, err := cf.ClassName()
	if err != nil {
		return "", errors.Wrap(err, "disasm: class name")
	}
	fmt.Fprintf(&b, "class %s\n", name)
	fmt.Fprintf(&b, "  minor version: %d\n", cf.MinorVersion)
	fmt.Fprintf(&b, "  major version: %d\n", cf.MajorVersion)

	for i := range cf.Fields {
		f := &cf.Fields[i]
		fmt.Fprintf(&b, "  %s %s;\n", f.Descriptor, f.Name)
	}

	for i := range cf.Methods {
		m := &cf.Methods[i]
		fmt.Fprintf(&b, "\n  %s%s;\n", m.Name, m.Descriptor)
		if m.Code == nil {
			continue
		}
		lines, err := DisassembleMethod(cf.ConstantPool, m)
		if err != nil {
			return "", errors.Wrapf(err, "disasm: %s%s", m.Name, m.Descriptor)
		}
		for _, line := range lines {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}

	return b.String(), nil
}

// DisassembleMethod decodes m's Code attribute one instruction at a time
// and renders each as "<pc>: <mnemonic> <resolved operand>", matching
// javap's per-line shape.
func DisassembleMethod(pool []classfile.ConstantPoolEntry, m *classfile.MethodInfo) ([]string, error) {
	code := m.Code.Code
	var lines []string
	for pc := 0; pc < len(code); {
		instr, next, err := opcodes.Decode(code, pc)
		if err != nil {
			return nil, err
		}
		operand := renderOperand(pool, instr)
		if operand == "" {
			lines = append(lines, fmt.Sprintf("%d: %s", instr.PC, instr.Mnemonic))
		} else {
			lines = append(lines, fmt.Sprintf("%d: %s %s", instr.PC, instr.Mnemonic, operand))
		}
		pc = next
	}
	return lines, nil
}

// renderOperand resolves an instruction's constant-pool index (where it
// has one) to a human-readable reference, and renders bipush/sipush and
// local-variable indices as numbers. A pool operand whose resolution fails
// (raw decode of this package does not require a fully linked class)
// renders as "#<index>"; any other instruction renders no operand.
func renderOperand(pool []classfile.ConstantPoolEntry, instr opcodes.Instruction) string {
	switch instr.Mnemonic {
	case "ldc":
		return resolveConstant(pool, uint16(instr.Operands[0]))
	case "ldc_w", "ldc2_w":
		return resolveConstant(pool, be16(instr.Operands))
	case "getstatic", "putstatic", "getfield", "putfield":
		ref, err := classfile.ResolveFieldref(pool, be16(instr.Operands))
		if err != nil {
			return fmt.Sprintf("#%d", be16(instr.Operands))
		}
		return fmt.Sprintf("// Field %s.%s:%s", ref.ClassName, ref.Name, ref.Descriptor)
	case "invokevirtual", "invokespecial", "invokestatic":
		ref, err := classfile.ResolveMethodref(pool, be16(instr.Operands))
		if err != nil {
			return fmt.Sprintf("#%d", be16(instr.Operands))
		}
		return fmt.Sprintf("// Method %s.%s:%s", ref.ClassName, ref.Name, ref.Descriptor)
	case "invokeinterface":
		ref, err := classfile.ResolveInterfaceMethodref(pool, be16(instr.Operands))
		if err != nil {
			return fmt.Sprintf("#%d", be16(instr.Operands))
		}
		return fmt.Sprintf("// InterfaceMethod %s.%s:%s", ref.ClassName, ref.Name, ref.Descriptor)
	case "new", "anewarray", "checkcast", "instanceof", "multianewarray":
		name, err := classfile.GetClassName(pool, be16(instr.Operands))
		if err != nil {
			return fmt.Sprintf("#%d", be16(instr.Operands))
		}
		return fmt.Sprintf("// class %s", name)
	case "bipush":
		return fmt.Sprintf("%d", int8(instr.Operands[0]))
	case "sipush":
		return fmt.Sprintf("%d", int16(be16(instr.Operands)))
	case "iload", "lload", "fload", "dload", "aload",
		"istore", "lstore", "fstore", "dstore", "astore", "ret":
		if len(instr.Operands) == 1 {
			return fmt.Sprintf("%d", instr.Operands[0])
		}
		return fmt.Sprintf("%d", be16(instr.Operands))
	default:
		return ""
	}
}

// resolveConstant renders an ldc/ldc_w/ldc2_w operand's loadable constant.
func resolveConstant(pool []classfile.ConstantPoolEntry, index uint16) string {
	entry, err := classfile.Entry(pool, index)
	if err != nil {
		return fmt.Sprintf("#%d", index)
	}
	switch e := entry.(type) {
	case *classfile.ConstantInteger:
		return fmt.Sprintf("int %d", e.Value)
	case *classfile.ConstantFloat:
		return fmt.Sprintf("float %g", e.Value)
	case *classfile.ConstantLong:
		return fmt.Sprintf("long %d", e.Value)
	case *classfile.ConstantDouble:
		return fmt.Sprintf("double %g", e.Value)
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(pool, e.StringIndex)
		if err != nil {
			return fmt.Sprintf("#%d", index)
		}
		return fmt.Sprintf("String %q", s)
	default:
		return fmt.Sprintf("#%d", index)
	}
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
