package classfile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from disk.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening class file %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a .class file from r (JVMS §4.1's ClassFile structure).
func Parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "reading magic number")
	}
	if magic != classMagic {
		return nil, errors.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, errors.Wrap(err, "reading minor version")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, errors.Wrap(err, "reading major version")
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, errors.Wrap(err, "reading constant pool count")
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing constant pool")
	}
	cf.ConstantPool = pool

	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, errors.Wrap(err, "reading access flags")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return nil, errors.Wrap(err, "reading this_class")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return nil, errors.Wrap(err, "reading super_class")
	}

	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return nil, errors.Wrap(err, "reading interfaces count")
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		if err := binary.Read(r, binary.BigEndian, &cf.Interfaces[i]); err != nil {
			return nil, errors.Wrapf(err, "reading interface %d", i)
		}
	}

	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return nil, errors.Wrap(err, "reading fields count")
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing fields")
	}

	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return nil, errors.Wrap(err, "reading methods count")
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing methods")
	}

	if err := cf.parseClassAttributes(r); err != nil {
		return nil, errors.Wrap(err, "parsing class attributes")
	}

	return cf, nil
}

func parseFields(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, count)
	for i := range fields {
		var accessFlags, nameIndex, descIndex, attrCount uint16
		if err := binary.Read(r, binary.BigEndian, &accessFlags); err != nil {
			return nil, errors.Wrapf(err, "reading field %d access flags", i)
		}
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, errors.Wrapf(err, "reading field %d name index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
			return nil, errors.Wrapf(err, "reading field %d descriptor index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
			return nil, errors.Wrapf(err, "reading field %d attribute count", i)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving field %d name", i)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving field %d descriptor", i)
		}
		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field %d attributes", i)
		}

		fields[i] = FieldInfo{AccessFlags: accessFlags, Name: name, Descriptor: desc, Attributes: attrs}
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, count)
	for i := range methods {
		var accessFlags, nameIndex, descIndex, attrCount uint16
		if err := binary.Read(r, binary.BigEndian, &accessFlags); err != nil {
			return nil, errors.Wrapf(err, "reading method %d access flags", i)
		}
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, errors.Wrapf(err, "reading method %d name index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
			return nil, errors.Wrapf(err, "reading method %d descriptor index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
			return nil, errors.Wrapf(err, "reading method %d attribute count", i)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving method %d name", i)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving method %d descriptor", i)
		}
		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing method %d attributes", i)
		}

		m := MethodInfo{AccessFlags: accessFlags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, attr := range attrs {
			if attr.Name == "Code" {
				code, err := parseCodeAttribute(attr.Data, pool)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing Code attribute for method %s%s", name, desc)
				}
				m.Code = code
				break
			}
		}
		methods[i] = m
	}
	return methods, nil
}

func parseAttributeInfos(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		var nameIndex uint16
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d name index", i)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d length", i)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d data", i)
		}
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving attribute %d name", i)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

// parseCodeAttribute decodes a method's Code attribute body (JVMS §4.7.3):
// the raw bytecode, its exception table, and its own nested attributes
// table, from which LineNumberTable, LocalVariableTable, and
// StackMapTable are decoded further.
func parseCodeAttribute(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, errors.Errorf("Code attribute too short: %d bytes", len(data))
	}

	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLength := binary.BigEndian.Uint32(data[4:8])

	if uint32(len(data)-8) < codeLength {
		return nil, errors.Errorf("Code attribute data too short for code_length %d", codeLength)
	}

	code := make([]byte, codeLength)
	copy(code, data[8:8+codeLength])

	offset := 8 + int(codeLength)
	var handlers []ExceptionHandler
	if offset+2 <= len(data) {
		exTableLen := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		handlers = make([]ExceptionHandler, 0, exTableLen)
		for i := uint16(0); i < exTableLen; i++ {
			if offset+8 > len(data) {
				return nil, errors.Errorf("exception table truncated at entry %d", i)
			}
			handlers = append(handlers, ExceptionHandler{
				StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
				EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
				HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
				CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
			})
			offset += 8
		}
	}

	result := &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}

	if offset+2 > len(data) {
		return result, nil
	}
	attrCount := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	for i := uint16(0); i < attrCount; i++ {
		if offset+6 > len(data) {
			return nil, errors.Errorf("Code attribute %d truncated", i)
		}
		nameIndex := binary.BigEndian.Uint16(data[offset : offset+2])
		length := binary.BigEndian.Uint32(data[offset+2 : offset+6])
		offset += 6
		if offset+int(length) > len(data) {
			return nil, errors.Errorf("Code attribute %d data truncated", i)
		}
		body := data[offset : offset+int(length)]
		offset += int(length)

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			continue
		}
		switch name {
		case "LineNumberTable":
			result.LineNumberTable, err = parseLineNumberTable(body)
		case "LocalVariableTable":
			result.LocalVariableTable, err = parseLocalVariableTable(body, pool)
		case "StackMapTable":
			result.StackMapTable, err = parseStackMapTable(body)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", name)
		}
	}

	return result, nil
}

func parseLineNumberTable(data []byte) ([]LineNumberEntry, error) {
	if len(data) < 2 {
		return nil, errors.New("LineNumberTable too short")
	}
	count := binary.BigEndian.Uint16(data[0:2])
	entries := make([]LineNumberEntry, count)
	offset := 2
	for i := range entries {
		if offset+4 > len(data) {
			return nil, errors.Errorf("LineNumberTable truncated at entry %d", i)
		}
		entries[i] = LineNumberEntry{
			StartPC:    binary.BigEndian.Uint16(data[offset : offset+2]),
			LineNumber: binary.BigEndian.Uint16(data[offset+2 : offset+4]),
		}
		offset += 4
	}
	return entries, nil
}

func parseLocalVariableTable(data []byte, pool []ConstantPoolEntry) ([]LocalVariableEntry, error) {
	if len(data) < 2 {
		return nil, errors.New("LocalVariableTable too short")
	}
	count := binary.BigEndian.Uint16(data[0:2])
	entries := make([]LocalVariableEntry, count)
	offset := 2
	for i := range entries {
		if offset+10 > len(data) {
			return nil, errors.Errorf("LocalVariableTable truncated at entry %d", i)
		}
		nameIndex := binary.BigEndian.Uint16(data[offset+4 : offset+6])
		descIndex := binary.BigEndian.Uint16(data[offset+6 : offset+8])
		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving local variable %d name", i)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving local variable %d descriptor", i)
		}
		entries[i] = LocalVariableEntry{
			StartPC:    binary.BigEndian.Uint16(data[offset : offset+2]),
			Length:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
			Name:       name,
			Descriptor: desc,
			Index:      binary.BigEndian.Uint16(data[offset+8 : offset+10]),
		}
		offset += 10
	}
	return entries, nil
}

// parseVerificationTypeInfo decodes one verification_type_info entry
// (JVMS §4.7.4, table 4.7.4-A) and reports the offset past it.
func parseVerificationTypeInfo(data []byte, offset int) (VerificationTypeInfo, int, error) {
	if offset >= len(data) {
		return VerificationTypeInfo{}, offset, errors.New("verification_type_info truncated")
	}
	tag := VerificationTypeKind(data[offset])
	offset++
	switch tag {
	case VerifyObject, VerifyUninitialized:
		if offset+2 > len(data) {
			return VerificationTypeInfo{}, offset, errors.New("verification_type_info truncated")
		}
		v := VerificationTypeInfo{Kind: tag, Data: binary.BigEndian.Uint16(data[offset : offset+2])}
		return v, offset + 2, nil
	default:
		return VerificationTypeInfo{Kind: tag}, offset, nil
	}
}

// parseStackMapTable decodes a Code attribute's StackMapTable (JVMS
// §4.7.4): one of seven frame shapes per entry, distinguished by the
// leading frame_type byte's range.
func parseStackMapTable(data []byte) ([]StackMapFrame, error) {
	if len(data) < 2 {
		return nil, errors.New("StackMapTable too short")
	}
	count := binary.BigEndian.Uint16(data[0:2])
	frames := make([]StackMapFrame, 0, count)
	offset := 2
	for i := uint16(0); i < count; i++ {
		if offset >= len(data) {
			return nil, errors.Errorf("StackMapTable truncated at frame %d", i)
		}
		frameType := data[offset]
		offset++

		var frame StackMapFrame
		var err error
		switch {
		case frameType <= 63:
			frame = StackMapFrame{Kind: FrameSame, OffsetDelta: uint16(frameType)}

		case frameType <= 127:
			frame = StackMapFrame{Kind: FrameSameLocals1StackItem, OffsetDelta: uint16(frameType - 64)}
			var v VerificationTypeInfo
			v, offset, err = parseVerificationTypeInfo(data, offset)
			frame.Stack = []VerificationTypeInfo{v}

		case frameType == 247:
			if offset+2 > len(data) {
				return nil, errors.Errorf("StackMapTable frame %d truncated", i)
			}
			frame = StackMapFrame{Kind: FrameSameLocals1StackItemExtended, OffsetDelta: binary.BigEndian.Uint16(data[offset : offset+2])}
			offset += 2
			var v VerificationTypeInfo
			v, offset, err = parseVerificationTypeInfo(data, offset)
			frame.Stack = []VerificationTypeInfo{v}

		case frameType >= 248 && frameType <= 250:
			if offset+2 > len(data) {
				return nil, errors.Errorf("StackMapTable frame %d truncated", i)
			}
			frame = StackMapFrame{
				Kind:        FrameChop,
				OffsetDelta: binary.BigEndian.Uint16(data[offset : offset+2]),
				ChopCount:   251 - int(frameType),
			}
			offset += 2

		case frameType == 251:
			if offset+2 > len(data) {
				return nil, errors.Errorf("StackMapTable frame %d truncated", i)
			}
			frame = StackMapFrame{Kind: FrameSameExtended, OffsetDelta: binary.BigEndian.Uint16(data[offset : offset+2])}
			offset += 2

		case frameType >= 252 && frameType <= 254:
			if offset+2 > len(data) {
				return nil, errors.Errorf("StackMapTable frame %d truncated", i)
			}
			frame = StackMapFrame{Kind: FrameAppend, OffsetDelta: binary.BigEndian.Uint16(data[offset : offset+2])}
			offset += 2
			newLocals := int(frameType) - 251
			frame.Locals = make([]VerificationTypeInfo, newLocals)
			for j := 0; j < newLocals && err == nil; j++ {
				frame.Locals[j], offset, err = parseVerificationTypeInfo(data, offset)
			}

		case frameType == 255:
			if offset+2 > len(data) {
				return nil, errors.Errorf("StackMapTable frame %d truncated", i)
			}
			frame = StackMapFrame{Kind: FrameFull, OffsetDelta: binary.BigEndian.Uint16(data[offset : offset+2])}
			offset += 2
			if offset+2 > len(data) {
				return nil, errors.Errorf("StackMapTable frame %d truncated", i)
			}
			numLocals := binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
			frame.Locals = make([]VerificationTypeInfo, numLocals)
			for j := uint16(0); j < numLocals && err == nil; j++ {
				frame.Locals[j], offset, err = parseVerificationTypeInfo(data, offset)
			}
			if err == nil {
				if offset+2 > len(data) {
					return nil, errors.Errorf("StackMapTable frame %d truncated", i)
				}
				numStack := binary.BigEndian.Uint16(data[offset : offset+2])
				offset += 2
				frame.Stack = make([]VerificationTypeInfo, numStack)
				for j := uint16(0); j < numStack && err == nil; j++ {
					frame.Stack[j], offset, err = parseVerificationTypeInfo(data, offset)
				}
			}

		default:
			return nil, errors.Errorf("StackMapTable frame %d has reserved frame_type %d", i, frameType)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "StackMapTable frame %d", i)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// parseClassAttributes reads the class-level attribute table, decoding
// only BootstrapMethods; everything else (SourceFile, InnerClasses,
// Signature, ...) is out of scope and skipped.
func (cf *ClassFile) parseClassAttributes(r io.Reader) error {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return errors.Wrap(err, "reading class attribute count")
	}
	for i := uint16(0); i < count; i++ {
		var nameIndex uint16
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return errors.Wrapf(err, "reading class attribute %d name index", i)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return errors.Wrapf(err, "reading class attribute %d length", i)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return errors.Wrapf(err, "reading class attribute %d data", i)
		}
		name, err := GetUtf8(cf.ConstantPool, nameIndex)
		if err != nil {
			continue
		}
		if name == "BootstrapMethods" {
			cf.BootstrapMethods, err = parseBootstrapMethods(data)
			if err != nil {
				return errors.Wrap(err, "parsing BootstrapMethods")
			}
		}
	}
	return nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	if len(data) < 2 {
		return nil, errors.Errorf("BootstrapMethods data too short")
	}
	numMethods := binary.BigEndian.Uint16(data[0:2])
	offset := 2
	methods := make([]BootstrapMethod, numMethods)
	for i := range methods {
		if offset+4 > len(data) {
			return nil, errors.Errorf("BootstrapMethods truncated at method %d", i)
		}
		methodRef := binary.BigEndian.Uint16(data[offset : offset+2])
		numArgs := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		args := make([]uint16, numArgs)
		for j := range args {
			if offset+2 > len(data) {
				return nil, errors.Errorf("BootstrapMethods truncated at arg %d of method %d", j, i)
			}
			args[j] = binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
		}
		methods[i] = BootstrapMethod{MethodRef: methodRef, BootstrapArguments: args}
	}
	return methods, nil
}
