// Package interp implements the per-thread bytecode interpreter (spec C5,
// §4.5): fetch-decode-execute over internal/opcodes' decode table, stack
// effects on internal/frame.Frame, and the exception-table-driven unwind
// that turns a raised exception into either a handler jump or propagation
// to the caller.
package interp

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/classfile"
	"github.com/oakvm/jvm/internal/dispatch"
	"github.com/oakvm/jvm/internal/frame"
	"github.com/oakvm/jvm/internal/oop"
	"github.com/oakvm/jvm/internal/opcodes"
	"github.com/oakvm/jvm/internal/thread"
)

// Interp drives one or more threads' frames through their bytecode,
// delegating invoke*/new/getstatic/putstatic to the Dispatcher it wraps.
type Interp struct {
	Dispatch *dispatch.Dispatcher
	log      *logrus.Entry
}

// New builds an Interp over d. Callers (internal/bootstrap) assign the
// returned value's Run method back onto d.Run to close the dispatch<->interp
// wiring loop without either package importing the other directly.
func New(d *dispatch.Dispatcher) *Interp {
	return &Interp{Dispatch: d, log: logrus.NewEntry(logrus.StandardLogger())}
}

// Run executes f's bytecode on th until a return opcode completes the frame
// or an exception propagates past it (spec §4.5).
func (ip *Interp) Run(th *thread.State, f *frame.Frame) (*oop.Cell, error) {
	for {
		instr, next, err := opcodes.Decode(f.Code, f.PC)
		if err != nil {
			panic(errors.Wrapf(err, "interp: %s.%s%s", f.Class.ClassName, f.Method.Name, f.Method.Descriptor))
		}
		pc := instr.PC
		f.PC = next

		ret, done, stepErr := ip.step(th, f, instr)
		if stepErr != nil {
			return nil, stepErr
		}

		if th.HasPendingException() {
			if ip.unwind(f, th, pc) {
				continue
			}
			return nil, th.PendingException
		}

		if done {
			return ret, nil
		}
	}
}

// asPending recognizes a *classarea.JavaException anywhere in err's cause
// chain (dispatch sometimes wraps it, e.g. classarea.EnsureInitialized's
// previously-failed-init path) and reflects it onto th.PendingException if
// the raiser didn't already, returning nil so Run's post-step check takes
// over. Any other error is a genuine Go-internal failure and propagates as
// a VM-level error instead.
func asPending(th *thread.State, err error) error {
	if err == nil {
		return nil
	}
	if jex, ok := errors.Cause(err).(*classarea.JavaException); ok {
		if !th.HasPendingException() {
			th.Raise(jex)
		}
		return nil
	}
	return err
}

func (ip *Interp) raise(th *thread.State, name string) {
	class, err := ip.Dispatch.Area.RequireClass(name)
	if err != nil {
		panic(errors.Wrapf(err, "interp: bootstrap exception class %s unavailable", name))
	}
	th.Raise(classarea.NewJavaException(class))
}

// step executes one decoded instruction. A non-nil returned error is a
// fatal, non-Java-observable failure; Java exceptions are instead signaled
// via th.Raise and reflected back to Run through th.HasPendingException.
func (ip *Interp) step(th *thread.State, f *frame.Frame, instr opcodes.Instruction) (ret *oop.Cell, done bool, fatal error) {
	switch instr.Mnemonic {

	case "nop":

	case "aconst_null":
		f.Push(oop.Null)

	case "iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5":
		f.Push(oop.NewInt(int32(instr.Opcode) - 3))

	case "lconst_0", "lconst_1":
		f.Push(oop.NewLong(int64(instr.Opcode) - 0x09))

	case "fconst_0", "fconst_1", "fconst_2":
		f.Push(oop.NewFloat(float32(instr.Opcode) - 0x0b))

	case "dconst_0", "dconst_1":
		f.Push(oop.NewDouble(float64(instr.Opcode) - 0x0e))

	case "bipush":
		f.Push(oop.NewInt(int32(int8(instr.Operands[0]))))

	case "sipush":
		f.Push(oop.NewInt(int32(be16signed(instr.Operands))))

	case "ldc", "ldc_w", "ldc2_w":
		var idx uint16
		if instr.Mnemonic == "ldc" {
			idx = uint16(instr.Operands[0])
		} else {
			idx = be16(instr.Operands)
		}
		v, err := f.Class.ResolveConstant(idx)
		if err != nil {
			return nil, false, errors.Wrapf(err, "interp: %s", instr.Mnemonic)
		}
		f.Push(v)

	case "iload", "lload", "fload", "dload", "aload":
		f.Push(f.GetLocal(localIndex(instr)))
	case "iload_0", "lload_0", "fload_0", "dload_0", "aload_0":
		f.Push(f.GetLocal(0))
	case "iload_1", "lload_1", "fload_1", "dload_1", "aload_1":
		f.Push(f.GetLocal(1))
	case "iload_2", "lload_2", "fload_2", "dload_2", "aload_2":
		f.Push(f.GetLocal(2))
	case "iload_3", "lload_3", "fload_3", "dload_3", "aload_3":
		f.Push(f.GetLocal(3))

	case "istore", "lstore", "fstore", "dstore", "astore":
		f.SetLocal(localIndex(instr), f.Pop())
	case "istore_0", "lstore_0", "fstore_0", "dstore_0", "astore_0":
		f.SetLocal(0, f.Pop())
	case "istore_1", "lstore_1", "fstore_1", "dstore_1", "astore_1":
		f.SetLocal(1, f.Pop())
	case "istore_2", "lstore_2", "fstore_2", "dstore_2", "astore_2":
		f.SetLocal(2, f.Pop())
	case "istore_3", "lstore_3", "fstore_3", "dstore_3", "astore_3":
		f.SetLocal(3, f.Pop())

	case "iaload", "laload", "faload", "daload", "aaload", "baload", "caload", "saload":
		idx, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		arr := f.PopRef()
		v, err := ip.arrayGet(th, arr, int(idx))
		if err != nil {
			return nil, false, asPending(th, err)
		}
		if v != nil {
			f.Push(v)
		}

	case "iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore", "sastore":
		val := f.Pop()
		idx, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		arr := f.PopRef()
		if err := ip.arrayPut(th, arr, int(idx), val); err != nil {
			return nil, false, asPending(th, err)
		}

	case "pop":
		f.Pop()
	case "pop2":
		f.Pop()
		f.Pop()
	case "dup":
		f.Dup()
	case "dup_x1":
		f.DupX1()
	case "dup_x2":
		f.DupX2()
	case "dup2":
		f.Dup2()
	case "dup2_x1":
		f.Dup2X1()
	case "dup2_x2":
		f.Dup2X2()
	case "swap":
		f.Swap()

	case "iadd":
		if err := binInt(f, func(a, b int32) int32 { return a + b }); err != nil {
			return nil, false, err
		}
	case "isub":
		if err := binInt(f, func(a, b int32) int32 { return a - b }); err != nil {
			return nil, false, err
		}
	case "imul":
		if err := binInt(f, func(a, b int32) int32 { return a * b }); err != nil {
			return nil, false, err
		}
	case "idiv":
		b, a, err := pop2Int(f)
		if err != nil {
			return nil, false, err
		}
		if b == 0 {
			ip.raise(th, "java/lang/ArithmeticException")
			return nil, false, nil
		}
		f.Push(oop.NewInt(a / b))
	case "irem":
		b, a, err := pop2Int(f)
		if err != nil {
			return nil, false, err
		}
		if b == 0 {
			ip.raise(th, "java/lang/ArithmeticException")
			return nil, false, nil
		}
		f.Push(oop.NewInt(a % b))
	case "ineg":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(-v))

	case "ladd":
		if err := binLong(f, func(a, b int64) int64 { return a + b }); err != nil {
			return nil, false, err
		}
	case "lsub":
		if err := binLong(f, func(a, b int64) int64 { return a - b }); err != nil {
			return nil, false, err
		}
	case "lmul":
		if err := binLong(f, func(a, b int64) int64 { return a * b }); err != nil {
			return nil, false, err
		}
	case "ldiv":
		b, a, err := pop2Long(f)
		if err != nil {
			return nil, false, err
		}
		if b == 0 {
			ip.raise(th, "java/lang/ArithmeticException")
			return nil, false, nil
		}
		f.Push(oop.NewLong(a / b))
	case "lrem":
		b, a, err := pop2Long(f)
		if err != nil {
			return nil, false, err
		}
		if b == 0 {
			ip.raise(th, "java/lang/ArithmeticException")
			return nil, false, nil
		}
		f.Push(oop.NewLong(a % b))
	case "lneg":
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(-v))

	case "fadd":
		if err := binFloat(f, func(a, b float32) float32 { return a + b }); err != nil {
			return nil, false, err
		}
	case "fsub":
		if err := binFloat(f, func(a, b float32) float32 { return a - b }); err != nil {
			return nil, false, err
		}
	case "fmul":
		if err := binFloat(f, func(a, b float32) float32 { return a * b }); err != nil {
			return nil, false, err
		}
	case "fdiv":
		if err := binFloat(f, func(a, b float32) float32 { return a / b }); err != nil {
			return nil, false, err
		}
	case "frem":
		if err := binFloat(f, func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) }); err != nil {
			return nil, false, err
		}
	case "fneg":
		v, err := f.PopFloat()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewFloat(-v))

	case "dadd":
		if err := binDouble(f, func(a, b float64) float64 { return a + b }); err != nil {
			return nil, false, err
		}
	case "dsub":
		if err := binDouble(f, func(a, b float64) float64 { return a - b }); err != nil {
			return nil, false, err
		}
	case "dmul":
		if err := binDouble(f, func(a, b float64) float64 { return a * b }); err != nil {
			return nil, false, err
		}
	case "ddiv":
		if err := binDouble(f, func(a, b float64) float64 { return a / b }); err != nil {
			return nil, false, err
		}
	case "drem":
		if err := binDouble(f, math.Mod); err != nil {
			return nil, false, err
		}
	case "dneg":
		v, err := f.PopDouble()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewDouble(-v))

	case "ishl":
		s, v, err := pop2Int(f)
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(v << (uint32(s) & 0x1f)))
	case "ishr":
		s, v, err := pop2Int(f)
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(v >> (uint32(s) & 0x1f)))
	case "iushr":
		s, v, err := pop2Int(f)
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(uint32(v) >> (uint32(s) & 0x1f))))
	case "iand":
		if err := binInt(f, func(a, b int32) int32 { return a & b }); err != nil {
			return nil, false, err
		}
	case "ior":
		if err := binInt(f, func(a, b int32) int32 { return a | b }); err != nil {
			return nil, false, err
		}
	case "ixor":
		if err := binInt(f, func(a, b int32) int32 { return a ^ b }); err != nil {
			return nil, false, err
		}

	case "lshl":
		s, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(v << (uint32(s) & 0x3f)))
	case "lshr":
		s, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(v >> (uint32(s) & 0x3f)))
	case "lushr":
		s, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(int64(uint64(v) >> (uint32(s) & 0x3f))))
	case "land":
		if err := binLong(f, func(a, b int64) int64 { return a & b }); err != nil {
			return nil, false, err
		}
	case "lor":
		if err := binLong(f, func(a, b int64) int64 { return a | b }); err != nil {
			return nil, false, err
		}
	case "lxor":
		if err := binLong(f, func(a, b int64) int64 { return a ^ b }); err != nil {
			return nil, false, err
		}

	case "iinc":
		idx, delta := iincOperands(instr)
		v, err := oop.ExtractInt(f.GetLocal(idx))
		if err != nil {
			return nil, false, err
		}
		f.SetLocal(idx, oop.NewInt(v+delta))

	case "i2l":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(int64(v)))
	case "i2f":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewFloat(float32(v)))
	case "i2d":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewDouble(float64(v)))
	case "l2i":
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(v)))
	case "l2f":
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewFloat(float32(v)))
	case "l2d":
		v, err := f.PopLong()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewDouble(float64(v)))
	case "f2i":
		v, err := f.PopFloat()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(v)))
	case "f2l":
		v, err := f.PopFloat()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(int64(v)))
	case "f2d":
		v, err := f.PopFloat()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewDouble(float64(v)))
	case "d2i":
		v, err := f.PopDouble()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(v)))
	case "d2l":
		v, err := f.PopDouble()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewLong(int64(v)))
	case "d2f":
		v, err := f.PopDouble()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewFloat(float32(v)))
	case "i2b":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(int8(v))))
	case "i2c":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(uint16(v))))
	case "i2s":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(int32(int16(v))))

	case "lcmp":
		b, a, err := pop2Long(f)
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(cmp64(a, b)))
	case "fcmpl", "fcmpg":
		b, a, err := pop2Float(f)
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(cmpFloat(float64(a), float64(b), instr.Mnemonic == "fcmpg")))
	case "dcmpl", "dcmpg":
		b, a, err := pop2Double(f)
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewInt(cmpFloat(a, b, instr.Mnemonic == "dcmpg")))

	case "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle":
		v, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		if takeIfCmp(instr.Mnemonic[2:], v, 0) {
			f.PC = branchTarget(instr)
		}
	case "if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple":
		b, a, err := pop2Int(f)
		if err != nil {
			return nil, false, err
		}
		if takeIfCmp(instr.Mnemonic[7:], a, b) {
			f.PC = branchTarget(instr)
		}
	case "if_acmpeq", "if_acmpne":
		b := f.PopRef()
		a := f.PopRef()
		eq := oop.IfAcmpEq(a, b)
		if instr.Mnemonic == "if_acmpne" {
			eq = !eq
		}
		if eq {
			f.PC = branchTarget(instr)
		}
	case "ifnull", "ifnonnull":
		v := f.PopRef()
		isNull := v == nil || v == oop.Null || v.Kind() == oop.KindNull
		if (instr.Mnemonic == "ifnull") == isNull {
			f.PC = branchTarget(instr)
		}

	case "goto":
		f.PC = branchTarget(instr)
	case "goto_w":
		f.PC = instr.PC + int(be32signed(instr.Operands))
	case "jsr":
		f.Push(oop.NewInt(int32(f.PC)))
		f.PC = branchTarget(instr)
	case "jsr_w":
		f.Push(oop.NewInt(int32(f.PC)))
		f.PC = instr.PC + int(be32signed(instr.Operands))
	case "ret":
		ret, err := oop.ExtractInt(f.GetLocal(localIndex(instr)))
		if err != nil {
			return nil, false, err
		}
		f.PC = int(ret)

	case "tableswitch":
		key, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.PC = execTableswitch(instr, key)
	case "lookupswitch":
		key, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.PC = execLookupswitch(instr, key)

	case "ireturn", "lreturn", "freturn", "dreturn", "areturn":
		return f.Pop(), true, nil
	case "return":
		return nil, true, nil

	case "getstatic", "putstatic":
		field, owner, ok, err := ip.resolveField(th, f, instr)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if err := ip.Dispatch.EnsureInitialized(th, owner); err != nil {
			return nil, false, asPending(th, err)
		}
		if instr.Mnemonic == "getstatic" {
			v, err := owner.GetStaticField(field)
			if err != nil {
				return nil, false, err
			}
			f.Push(v)
		} else {
			v := f.Pop()
			if err := owner.PutStaticField(field, v); err != nil {
				return nil, false, err
			}
		}

	case "getfield":
		field, _, ok, err := ip.resolveField(th, f, instr)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		obj := f.PopRef()
		if obj == nil || obj == oop.Null || obj.Kind() == oop.KindNull {
			ip.raise(th, "java/lang/NullPointerException")
			return nil, false, nil
		}
		v, err := classarea.GetFieldValue(obj, field)
		if err != nil {
			return nil, false, err
		}
		f.Push(v)

	case "putfield":
		field, _, ok, err := ip.resolveField(th, f, instr)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		val := f.Pop()
		obj := f.PopRef()
		if obj == nil || obj == oop.Null || obj.Kind() == oop.KindNull {
			ip.raise(th, "java/lang/NullPointerException")
			return nil, false, nil
		}
		if err := classarea.PutFieldValue(obj, field, val); err != nil {
			return nil, false, err
		}

	case "invokevirtual", "invokeinterface":
		var ref *classfile.MemberRef
		var err error
		if instr.Mnemonic == "invokeinterface" {
			ref, err = classfile.ResolveInterfaceMethodref(f.Class.ConstantPool, be16(instr.Operands))
		} else {
			ref, err = classfile.ResolveMethodref(f.Class.ConstantPool, be16(instr.Operands))
		}
		if err != nil {
			return nil, false, err
		}
		n, hasRet := classfile.ParseMethodDescriptor(ref.Descriptor)
		args := popArgs(f, n)
		receiver := f.PopRef()
		result, err := ip.Dispatch.InvokeVirtual(th, receiver, classarea.NewMethodID(ref.Name, ref.Descriptor), args)
		if err != nil {
			return nil, false, asPending(th, err)
		}
		if hasRet {
			f.Push(result)
		}

	case "invokespecial":
		ref, err := classfile.ResolveMethodref(f.Class.ConstantPool, be16(instr.Operands))
		if err != nil {
			return nil, false, err
		}
		owner, ok, err := ip.resolveClass(th, ref.ClassName)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		n, hasRet := classfile.ParseMethodDescriptor(ref.Descriptor)
		args := popArgs(f, n)
		receiver := f.PopRef()
		result, err := ip.Dispatch.InvokeSpecial(th, owner, classarea.NewMethodID(ref.Name, ref.Descriptor), receiver, args)
		if err != nil {
			return nil, false, asPending(th, err)
		}
		if hasRet {
			f.Push(result)
		}

	case "invokestatic":
		ref, err := classfile.ResolveMethodref(f.Class.ConstantPool, be16(instr.Operands))
		if err != nil {
			return nil, false, err
		}
		owner, ok, err := ip.resolveClass(th, ref.ClassName)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		n, hasRet := classfile.ParseMethodDescriptor(ref.Descriptor)
		args := popArgs(f, n)
		result, err := ip.Dispatch.InvokeStatic(th, owner, classarea.NewMethodID(ref.Name, ref.Descriptor), args)
		if err != nil {
			return nil, false, asPending(th, err)
		}
		if hasRet {
			f.Push(result)
		}

	case "invokedynamic":
		return nil, false, errors.New("interp: invokedynamic call sites are not resolved by this VM")

	case "new":
		className, err := classfile.GetClassName(f.Class.ConstantPool, be16(instr.Operands))
		if err != nil {
			return nil, false, err
		}
		class, ok, err := ip.resolveClass(th, className)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if err := ip.Dispatch.EnsureInitialized(th, class); err != nil {
			return nil, false, asPending(th, err)
		}
		f.Push(class.NewInstance())

	case "newarray":
		count, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		component, kind := atypeOf(instr.Operands[0])
		f.Push(oop.NewArray(component, kind, int(count)))

	case "anewarray":
		className, err := classfile.GetClassName(f.Class.ConstantPool, be16(instr.Operands))
		if err != nil {
			return nil, false, err
		}
		count, err := f.PopInt()
		if err != nil {
			return nil, false, err
		}
		f.Push(oop.NewArray("L"+className+";", oop.SlotRef, int(count)))

	case "multianewarray":
		className, err := classfile.GetClassName(f.Class.ConstantPool, be16(instr.Operands))
		if err != nil {
			return nil, false, err
		}
		dims := int(instr.Operands[2])
		counts := make([]int32, dims)
		for i := dims - 1; i >= 0; i-- {
			v, err := f.PopInt()
			if err != nil {
				return nil, false, err
			}
			counts[i] = v
		}
		f.Push(buildMultiArray(className, counts))

	case "arraylength":
		arr := f.PopRef()
		if arr == nil || arr == oop.Null || arr.Kind() == oop.KindNull {
			ip.raise(th, "java/lang/NullPointerException")
			return nil, false, nil
		}
		f.Push(oop.NewInt(int32(arr.Len())))

	case "athrow":
		obj := f.PopRef()
		if obj == nil || obj == oop.Null || obj.Kind() == oop.KindNull {
			ip.raise(th, "java/lang/NullPointerException")
			return nil, false, nil
		}
		class, ok := obj.Class().(*classarea.Class)
		if !ok {
			return nil, false, errors.New("interp: athrow operand has no class")
		}
		th.Raise(&classarea.JavaException{ClassName: class.ClassName, Object: obj})

	case "checkcast":
		target, ok, err := ip.resolveClassOperand(th, f, instr)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		obj := f.Peek(0)
		if obj != nil && obj != oop.Null && obj.Kind() != oop.KindNull {
			class, ok := obj.Class().(*classarea.Class)
			if !ok || !class.IsSubclassOf(target) {
				ip.raise(th, "java/lang/ClassCastException")
				return nil, false, nil
			}
		}

	case "instanceof":
		target, ok, err := ip.resolveClassOperand(th, f, instr)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		obj := f.PopRef()
		result := int32(0)
		if obj != nil && obj != oop.Null && obj.Kind() != oop.KindNull {
			if class, ok := obj.Class().(*classarea.Class); ok && class.IsSubclassOf(target) {
				result = 1
			}
		}
		f.Push(oop.NewInt(result))

	case "monitorenter", "monitorexit":
		// This VM serializes access per-cell (internal/oop's mutex), not per
		// monitor; wait/notify semantics are out of scope, so these just
		// drop the operand.
		f.Pop()

	default:
		return nil, false, errors.Errorf("interp: unimplemented opcode %s", instr.Mnemonic)
	}

	return nil, false, nil
}

// unwind consults f.Method.Code.ExceptionHandlers for a handler covering
// faultPC whose catch type the pending exception is assignable to (spec
// §4.5). On a match it clears the operand stack, pushes the exception
// object, sets pc to the handler, clears the flag, and reports true; on no
// match it leaves the flag set for the caller to observe after this frame
// pops, and reports false.
func (ip *Interp) unwind(f *frame.Frame, th *thread.State, faultPC int) bool {
	ex := th.PendingException

	var excClass *classarea.Class
	if ex.Object != nil {
		if c, ok := ex.Object.Class().(*classarea.Class); ok {
			excClass = c
		}
	}
	if excClass == nil {
		c, err := ip.Dispatch.Area.RequireClass(ex.ClassName)
		if err != nil {
			return false
		}
		excClass = c
	}

	for _, h := range f.Method.Code.ExceptionHandlers {
		if faultPC < int(h.StartPC) || faultPC >= int(h.EndPC) {
			continue
		}
		if h.CatchType != 0 {
			name, err := classfile.GetClassName(f.Class.ConstantPool, h.CatchType)
			if err != nil {
				continue
			}
			catchClass, err := ip.Dispatch.Area.RequireClass(name)
			if err != nil || !excClass.IsSubclassOf(catchClass) {
				continue
			}
		}

		f.ClearStack()
		obj := ex.Object
		if obj == nil {
			obj = excClass.Mirror()
		}
		f.Push(obj)
		f.PC = int(h.HandlerPC)
		th.ClearException()
		return true
	}
	return false
}

// resolveClass requires name for a bytecode-supplied class reference (as
// opposed to mustLoad's fixed VM-raised exception names). A genuine
// lookup miss raises a catchable NoClassDefFoundError and reports ok=false
// instead of aborting the interpreter the way a corrupt archive or
// truncated read still does.
func (ip *Interp) resolveClass(th *thread.State, name string) (class *classarea.Class, ok bool, err error) {
	class, err = ip.Dispatch.Area.RequireClass(name)
	if err != nil {
		if classarea.IsClassNotFound(err) {
			ip.raise(th, "java/lang/NoClassDefFoundError")
			return nil, false, nil
		}
		return nil, false, err
	}
	return class, true, nil
}

func (ip *Interp) resolveField(th *thread.State, f *frame.Frame, instr opcodes.Instruction) (field *classarea.Field, owner *classarea.Class, ok bool, err error) {
	ref, err := classfile.ResolveFieldref(f.Class.ConstantPool, be16(instr.Operands))
	if err != nil {
		return nil, nil, false, err
	}
	owner, ok, err = ip.resolveClass(th, ref.ClassName)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	static := instr.Mnemonic == "getstatic" || instr.Mnemonic == "putstatic"
	field, err = owner.GetFieldID(ref.Name, ref.Descriptor, static, true)
	if err != nil {
		return nil, nil, false, err
	}
	return field, owner, true, nil
}

func (ip *Interp) resolveClassOperand(th *thread.State, f *frame.Frame, instr opcodes.Instruction) (class *classarea.Class, ok bool, err error) {
	name, err := classfile.GetClassName(f.Class.ConstantPool, be16(instr.Operands))
	if err != nil {
		return nil, false, err
	}
	return ip.resolveClass(th, name)
}

func (ip *Interp) arrayGet(th *thread.State, arr *oop.Cell, idx int) (*oop.Cell, error) {
	if arr == nil || arr == oop.Null || arr.Kind() == oop.KindNull {
		ip.raise(th, "java/lang/NullPointerException")
		return nil, nil
	}
	v, err := oop.GetElement(arr, idx)
	if err != nil {
		if errors.Cause(err) == oop.ErrOutOfBounds {
			ip.raise(th, "java/lang/ArrayIndexOutOfBoundsException")
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (ip *Interp) arrayPut(th *thread.State, arr *oop.Cell, idx int, val *oop.Cell) error {
	if arr == nil || arr == oop.Null || arr.Kind() == oop.KindNull {
		ip.raise(th, "java/lang/NullPointerException")
		return nil
	}
	if err := oop.PutElement(arr, idx, val); err != nil {
		if errors.Cause(err) == oop.ErrOutOfBounds {
			ip.raise(th, "java/lang/ArrayIndexOutOfBoundsException")
			return nil
		}
		if errors.Cause(err) == oop.ErrArrayStore {
			ip.raise(th, "java/lang/ArrayStoreException")
			return nil
		}
		return err
	}
	return nil
}

func buildMultiArray(className string, counts []int32) *oop.Cell {
	if len(counts) == 1 {
		component := className
		if component[0] != '[' {
			component = "L" + component + ";"
		}
		return oop.NewArray(component, oop.SlotRef, int(counts[0]))
	}
	outer := oop.NewArray("["+className, oop.SlotRef, int(counts[0]))
	for i := 0; i < int(counts[0]); i++ {
		_ = oop.PutElement(outer, i, buildMultiArray(className, counts[1:]))
	}
	return outer
}

// atypeOf maps newarray's JVMS §6.5 atype byte to an array component
// descriptor and slot kind.
func atypeOf(atype byte) (string, oop.SlotKind) {
	switch atype {
	case 4:
		return "Z", oop.SlotInt
	case 5:
		return "C", oop.SlotInt
	case 6:
		return "F", oop.SlotFloat
	case 7:
		return "D", oop.SlotDouble
	case 8:
		return "B", oop.SlotInt
	case 9:
		return "S", oop.SlotInt
	case 10:
		return "I", oop.SlotInt
	case 11:
		return "J", oop.SlotLong
	default:
		return "I", oop.SlotInt
	}
}

func popArgs(f *frame.Frame, n int) []*oop.Cell {
	args := make([]*oop.Cell, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = f.Pop()
	}
	return args
}

func localIndex(instr opcodes.Instruction) int {
	if len(instr.Operands) == 1 {
		return int(instr.Operands[0])
	}
	return int(be16(instr.Operands))
}

func iincOperands(instr opcodes.Instruction) (index int, delta int32) {
	if !instr.Wide {
		return int(instr.Operands[0]), int32(int8(instr.Operands[1]))
	}
	return int(be16(instr.Operands)), int32(be16signed(instr.Operands[2:4]))
}

// branchTarget computes a 2-byte-offset branch's target, relative to the
// branching instruction's own pc (JVMS §6.5, not the following instruction).
func branchTarget(instr opcodes.Instruction) int {
	return instr.PC + int(be16signed(instr.Operands))
}

// execTableswitch computes tableswitch's branch target for key, per
// JVMS §6.5's pad/default/low/high/jump-table layout (padding computed
// relative to the instruction's own pc, matching internal/opcodes.Decode).
func execTableswitch(instr opcodes.Instruction, key int32) int {
	pad := (4 - (instr.PC+1)%4) % 4
	ops := instr.Operands
	def := be32signed(ops[pad : pad+4])
	low := be32signed(ops[pad+4 : pad+8])
	high := be32signed(ops[pad+8 : pad+12])
	if key < low || key > high {
		return instr.PC + int(def)
	}
	offsetIdx := pad + 12 + int(key-low)*4
	return instr.PC + int(be32signed(ops[offsetIdx:offsetIdx+4]))
}

// execLookupswitch computes lookupswitch's branch target for key.
func execLookupswitch(instr opcodes.Instruction, key int32) int {
	pad := (4 - (instr.PC+1)%4) % 4
	ops := instr.Operands
	def := be32signed(ops[pad : pad+4])
	npairs := be32signed(ops[pad+4 : pad+8])
	base := pad + 8
	for i := int32(0); i < npairs; i++ {
		off := base + int(i)*8
		if be32signed(ops[off:off+4]) == key {
			return instr.PC + int(be32signed(ops[off+4:off+8]))
		}
	}
	return instr.PC + int(def)
}

func cmp64(a, b int64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func cmpFloat(a, b float64, nanGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanGreater {
			return 1
		}
		return -1
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func takeIfCmp(op string, a, b int32) bool {
	switch op {
	case "eq":
		return a == b
	case "ne":
		return a != b
	case "lt":
		return a < b
	case "ge":
		return a >= b
	case "gt":
		return a > b
	case "le":
		return a <= b
	default:
		return false
	}
}

func binInt(f *frame.Frame, op func(a, b int32) int32) error {
	b, a, err := pop2Int(f)
	if err != nil {
		return err
	}
	f.Push(oop.NewInt(op(a, b)))
	return nil
}

func binLong(f *frame.Frame, op func(a, b int64) int64) error {
	b, a, err := pop2Long(f)
	if err != nil {
		return err
	}
	f.Push(oop.NewLong(op(a, b)))
	return nil
}

func binFloat(f *frame.Frame, op func(a, b float32) float32) error {
	b, a, err := pop2Float(f)
	if err != nil {
		return err
	}
	f.Push(oop.NewFloat(op(a, b)))
	return nil
}

func binDouble(f *frame.Frame, op func(a, b float64) float64) error {
	b, a, err := pop2Double(f)
	if err != nil {
		return err
	}
	f.Push(oop.NewDouble(op(a, b)))
	return nil
}

func pop2Int(f *frame.Frame) (b, a int32, err error) {
	if b, err = f.PopInt(); err != nil {
		return 0, 0, err
	}
	if a, err = f.PopInt(); err != nil {
		return 0, 0, err
	}
	return b, a, nil
}

func pop2Long(f *frame.Frame) (b, a int64, err error) {
	if b, err = f.PopLong(); err != nil {
		return 0, 0, err
	}
	if a, err = f.PopLong(); err != nil {
		return 0, 0, err
	}
	return b, a, nil
}

func pop2Float(f *frame.Frame) (b, a float32, err error) {
	if b, err = f.PopFloat(); err != nil {
		return 0, 0, err
	}
	if a, err = f.PopFloat(); err != nil {
		return 0, 0, err
	}
	return b, a, nil
}

func pop2Double(f *frame.Frame) (b, a float64, err error) {
	if b, err = f.PopDouble(); err != nil {
		return 0, 0, err
	}
	if a, err = f.PopDouble(); err != nil {
		return 0, 0, err
	}
	return b, a, nil
}

func be16(b []byte) uint16      { return uint16(b[0])<<8 | uint16(b[1]) }
func be16signed(b []byte) int16 { return int16(b[0])<<8 | int16(b[1]) }
func be32signed(b []byte) int32 {
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
