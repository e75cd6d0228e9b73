package natives

import (
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oakvm/jvm/internal/classarea"
	"github.com/oakvm/jvm/internal/oop"
)

const unsafeClass = "sun/misc/Unsafe"

// offheap emulates Unsafe.allocateMemory's address space. Real addresses
// aren't available without cgo; a monotonically increasing handle plays
// the same role for putLong/getByte/setMemory/putChar, which only ever see
// addresses this VM itself handed out (spec §5's "leaks if the caller
// loses the address" resource-scope note applies unchanged).
type offheap struct {
	mu      sync.Mutex
	next    int64
	regions map[int64][]byte
}

var heap = &offheap{next: 1, regions: make(map[int64][]byte)}

func (h *offheap) alloc(size int64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := h.next
	h.next += size + 1
	h.regions[addr] = make([]byte, size)
	return addr
}

func (h *offheap) free(addr int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.regions, addr)
}

func (h *offheap) at(addr, length int64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	region, ok := h.regions[addr]
	if !ok {
		return nil, errors.Errorf("natives: unknown Unsafe address %d", addr)
	}
	if length < 0 || int64(len(region)) < length {
		return nil, errors.Errorf("natives: Unsafe address %d region too small for %d bytes", addr, length)
	}
	return region, nil
}

func registerUnsafe(reg *Registry, area *classarea.Area) {
	reg.Register(unsafeClass, "registerNatives", "()V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		return nil, nil
	})

	reg.Register(unsafeClass, "arrayBaseOffset", "(Ljava/lang/Class;)I", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		return oop.NewInt(0), nil
	})

	// arrayIndexScale intentionally returns 1: Unsafe offsets in this VM
	// index elements directly rather than bytes (spec §9's documented
	// departure from real JDK behavior, kept deliberately rather than
	// replicated as a bug).
	reg.Register(unsafeClass, "arrayIndexScale", "(Ljava/lang/Class;)I", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		return oop.NewInt(1), nil
	})

	reg.Register(unsafeClass, "addressSize", "()I", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		return oop.NewInt(int32(unsafe.Sizeof(uintptr(0)))), nil
	})

	reg.Register(unsafeClass, "objectFieldOffset", "(Ljava/lang/reflect/Field;)J", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		fieldClass, err := area.RequireClass("java/lang/reflect/Field")
		if err != nil {
			return nil, errors.Wrap(err, "natives: loading java/lang/reflect/Field")
		}
		slotField, err := fieldClass.GetFieldID("slot", "I", false, false)
		if err != nil {
			return nil, errors.Wrap(err, "natives: resolving Field.slot")
		}
		v, err := classarea.GetFieldValue(args[1], slotField)
		if err != nil {
			return nil, err
		}
		slot, err := oop.ExtractInt(v)
		if err != nil {
			return nil, err
		}
		return oop.NewLong(int64(slot)), nil
	})

	reg.Register(unsafeClass, "compareAndSwapObject", "(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		ok, err := oop.CompareAndSwapObject(args[1], offset, args[3], args[4])
		if err != nil {
			return nil, err
		}
		return boolCell(ok), nil
	})

	reg.Register(unsafeClass, "compareAndSwapInt", "(Ljava/lang/Object;JII)Z", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		old, err := oop.ExtractInt(args[3])
		if err != nil {
			return nil, err
		}
		newV, err := oop.ExtractInt(args[4])
		if err != nil {
			return nil, err
		}
		ok, err := oop.CompareAndSwapInt(args[1], offset, old, newV)
		if err != nil {
			return nil, err
		}
		return boolCell(ok), nil
	})

	reg.Register(unsafeClass, "compareAndSwapLong", "(Ljava/lang/Object;JJJ)Z", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		old, err := oop.ExtractLong(args[3])
		if err != nil {
			return nil, err
		}
		newV, err := oop.ExtractLong(args[4])
		if err != nil {
			return nil, err
		}
		ok, err := oop.CompareAndSwapLong(args[1], offset, old, newV)
		if err != nil {
			return nil, err
		}
		return boolCell(ok), nil
	})

	reg.Register(unsafeClass, "getIntVolatile", "(Ljava/lang/Object;J)I", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		v, err := oop.GetIntVolatile(args[1], offset)
		if err != nil {
			return nil, err
		}
		return oop.NewInt(v), nil
	})

	reg.Register(unsafeClass, "getLongVolatile", "(Ljava/lang/Object;J)J", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		v, err := oop.GetLongVolatile(args[1], offset)
		if err != nil {
			return nil, err
		}
		return oop.NewLong(v), nil
	})

	reg.Register(unsafeClass, "getObjectVolatile", "(Ljava/lang/Object;J)Ljava/lang/Object;", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		return oop.GetObjectVolatile(args[1], offset)
	})

	reg.Register(unsafeClass, "allocateMemory", "(J)J", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		size, err := oop.ExtractLong(args[1])
		if err != nil {
			return nil, err
		}
		addr := heap.alloc(size)
		logrus.WithFields(logrus.Fields{"addr": addr, "size": humanize.Bytes(uint64(size))}).Debug("Unsafe.allocateMemory")
		return oop.NewLong(addr), nil
	})

	reg.Register(unsafeClass, "freeMemory", "(J)V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		addr, err := oop.ExtractLong(args[1])
		if err != nil {
			return nil, err
		}
		heap.free(addr)
		return nil, nil
	})

	reg.Register(unsafeClass, "putLong", "(JJ)V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		addr, err := oop.ExtractLong(args[1])
		if err != nil {
			return nil, err
		}
		value, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		region, err := heap.at(addr, 8)
		if err != nil {
			return nil, err
		}
		// Big-endian write order, per original_source's to_be_bytes (spec S6).
		for i := 0; i < 8; i++ {
			region[i] = byte(value >> uint(56-8*i))
		}
		return nil, nil
	})

	reg.Register(unsafeClass, "getByte", "(J)B", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		addr, err := oop.ExtractLong(args[1])
		if err != nil {
			return nil, err
		}
		region, err := heap.at(addr, 1)
		if err != nil {
			return nil, err
		}
		return oop.NewInt(int32(region[0])), nil
	})

	reg.Register(unsafeClass, "pageSize", "()I", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		return oop.NewInt(4096), nil
	})

	reg.Register(unsafeClass, "setMemory", "(Ljava/lang/Object;JJB)V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		offset, err := oop.ExtractLong(args[2])
		if err != nil {
			return nil, err
		}
		size, err := oop.ExtractLong(args[3])
		if err != nil {
			return nil, err
		}
		value, err := oop.ExtractInt(args[4])
		if err != nil {
			return nil, err
		}
		region, err := heap.at(offset, size)
		if err != nil {
			return nil, err
		}
		for i := range region[:size] {
			region[i] = byte(value)
		}
		return nil, nil
	})

	reg.Register(unsafeClass, "putChar", "(JC)V", func(env *Env, args []*oop.Cell) (*oop.Cell, error) {
		addr, err := oop.ExtractLong(args[1])
		if err != nil {
			return nil, err
		}
		value, err := oop.ExtractInt(args[2])
		if err != nil {
			return nil, err
		}
		region, err := heap.at(addr, 2)
		if err != nil {
			return nil, err
		}
		region[0] = byte(value >> 8)
		region[1] = byte(value)
		return nil, nil
	})
}

func boolCell(b bool) *oop.Cell {
	if b {
		return oop.NewInt(1)
	}
	return oop.NewInt(0)
}
