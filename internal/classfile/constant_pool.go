package classfile

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Constant pool tags (JVMS §4.4).
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagInvokeDynamic      = 18
)

// parseConstantPool reads constant_pool_count-1 entries. The returned
// slice is 1-indexed per JVMS §4.1; index 0 is always nil. Long and
// Double entries consume two pool slots (the second is left nil), per
// the class-file format's historical quirk.
func parseConstantPool(r io.Reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, errors.Wrapf(err, "reading constant pool tag at index %d", i)
		}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 length at index %d", i)
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 bytes at index %d", i)
			}
			pool[i] = &ConstantUtf8{Value: string(buf)}

		case TagInteger:
			var v int32
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "reading Integer at index %d", i)
			}
			pool[i] = &ConstantInteger{Value: v}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Float at index %d", i)
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong:
			var v int64
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "reading Long at index %d", i)
			}
			pool[i] = &ConstantLong{Value: v}
			i++ // occupies two constant pool entries, JVMS §4.4.5

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Double at index %d", i)
			}
			pool[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			i++

		case TagClass:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Class at index %d", i)
			}
			pool[i] = &ConstantClass{NameIndex: nameIndex}

		case TagString:
			var stringIndex uint16
			if err := binary.Read(r, binary.BigEndian, &stringIndex); err != nil {
				return nil, errors.Wrapf(err, "reading String at index %d", i)
			}
			pool[i] = &ConstantString{StringIndex: stringIndex}

		case TagFieldref:
			classIndex, natIndex, err := readRefPair(r)
			if err != nil {
				return nil, errors.Wrapf(err, "reading Fieldref at index %d", i)
			}
			pool[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagMethodref:
			classIndex, natIndex, err := readRefPair(r)
			if err != nil {
				return nil, errors.Wrapf(err, "reading Methodref at index %d", i)
			}
			pool[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagInterfaceMethodref:
			classIndex, natIndex, err := readRefPair(r)
			if err != nil {
				return nil, errors.Wrapf(err, "reading InterfaceMethodref at index %d", i)
			}
			pool[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}

		case TagNameAndType:
			nameIndex, descIndex, err := readRefPair(r)
			if err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType at index %d", i)
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			var kind uint8
			if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle kind at index %d", i)
			}
			var refIndex uint16
			if err := binary.Read(r, binary.BigEndian, &refIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle ref index at index %d", i)
			}
			pool[i] = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: refIndex}

		case TagMethodType:
			var descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodType at index %d", i)
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: descIndex}

		case TagInvokeDynamic:
			bsmIndex, natIndex, err := readRefPair(r)
			if err != nil {
				return nil, errors.Wrapf(err, "reading InvokeDynamic at index %d", i)
			}
			pool[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: bsmIndex, NameAndTypeIndex: natIndex}

		default:
			return nil, errors.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

func readRefPair(r io.Reader) (uint16, uint16, error) {
	var a, b uint16
	if err := binary.Read(r, binary.BigEndian, &a); err != nil {
		return 0, 0, err
	}
	if err := binary.Read(r, binary.BigEndian, &b); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// GetUtf8 resolves a CONSTANT_Utf8 entry.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return "", err
	}
	v, ok := entry.(*ConstantUtf8)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, entry.Tag())
	}
	return v.Value, nil
}

// GetClassName resolves a CONSTANT_Class entry to its binary name.
func GetClassName(pool []ConstantPoolEntry, index uint16) (string, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return "", err
	}
	v, ok := entry.(*ConstantClass)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Class", index)
	}
	return GetUtf8(pool, v.NameIndex)
}

// MemberRef is the resolved shape shared by Fieldref/Methodref/
// InterfaceMethodref entries.
type MemberRef struct {
	ClassName  string
	Name       string
	Descriptor string
}

// ResolveMethodref resolves a CONSTANT_Methodref entry.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return nil, err
	}
	v, ok := entry.(*ConstantMethodref)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not Methodref", index)
	}
	return resolveMemberRef(pool, v.ClassIndex, v.NameAndTypeIndex)
}

// ResolveInterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return nil, err
	}
	v, ok := entry.(*ConstantInterfaceMethodref)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not InterfaceMethodref", index)
	}
	return resolveMemberRef(pool, v.ClassIndex, v.NameAndTypeIndex)
}

// ResolveFieldref resolves a CONSTANT_Fieldref entry.
func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*MemberRef, error) {
	entry, err := lookup(pool, index)
	if err != nil {
		return nil, err
	}
	v, ok := entry.(*ConstantFieldref)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not Fieldref", index)
	}
	return resolveMemberRef(pool, v.ClassIndex, v.NameAndTypeIndex)
}

func resolveMemberRef(pool []ConstantPoolEntry, classIndex, natIndex uint16) (*MemberRef, error) {
	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, errors.Wrap(err, "resolving member class")
	}
	natEntry, err := lookup(pool, natIndex)
	if err != nil {
		return nil, err
	}
	nat, ok := natEntry.(*ConstantNameAndType)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not NameAndType", natIndex)
	}
	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return nil, errors.Wrap(err, "resolving member name")
	}
	desc, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return nil, errors.Wrap(err, "resolving member descriptor")
	}
	return &MemberRef{ClassName: className, Name: name, Descriptor: desc}, nil
}

// Entry resolves a raw constant pool entry by index, for callers (ldc) that
// need to switch on its dynamic type themselves.
func Entry(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	return lookup(pool, index)
}

func lookup(pool []ConstantPoolEntry, index uint16) (ConstantPoolEntry, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, errors.Errorf("invalid constant pool index %d", index)
	}
	return pool[index], nil
}
