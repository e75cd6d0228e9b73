package oop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClass struct{ name string }

func (f fakeClass) BinaryName() string { return f.name }

func TestIfAcmpEqIdentityNotEquality(t *testing.T) {
	a := NewInt(42)
	b := NewInt(42)
	require.False(t, IfAcmpEq(a, b), "two distinct Int cells with the same value must not be acmpeq")
	require.True(t, IfAcmpEq(a, a))
}

func TestIfAcmpEqNullSingleton(t *testing.T) {
	require.True(t, IfAcmpEq(NewNull(), NewNull()))
	require.True(t, IfAcmpEq(Null, NewNull()))
}

func TestExtractTypeMismatch(t *testing.T) {
	c := NewInt(7)
	_, err := ExtractLong(c)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestFieldGetPutRoundTrip(t *testing.T) {
	cls := fakeClass{"java/lang/Object"}
	inst := NewInst(cls, []SlotKind{SlotInt, SlotRef})

	v, err := GetField(inst, 0)
	require.NoError(t, err)
	i, err := ExtractInt(v)
	require.NoError(t, err)
	require.Equal(t, int32(0), i)

	require.NoError(t, PutField(inst, 0, NewInt(99)))
	v, err = GetField(inst, 0)
	require.NoError(t, err)
	i, _ = ExtractInt(v)
	require.Equal(t, int32(99), i)

	_, err = GetField(inst, 5)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestCompareAndSwapIntAtomicUnderConcurrency(t *testing.T) {
	cls := fakeClass{"java/util/concurrent/atomic/AtomicInteger"}
	inst := NewInst(cls, []SlotKind{SlotInt})

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ok, err := CompareAndSwapInt(inst, 0, 0, int32(i)+1)
			successes[i] = ok && err == nil
		}(i)
	}
	wg.Wait()

	// Exactly one CAS can have observed its expected old value 0, since
	// every goroutine races for 0->i+1; the field holds the winner's i+1.
	winners, winner := 0, -1
	for i, ok := range successes {
		if ok {
			winners++
			winner = i
		}
	}
	require.Equal(t, 1, winners)
	cur, err := GetIntVolatile(inst, 0)
	require.NoError(t, err)
	require.Equal(t, int32(winner)+1, cur)
}

func TestCompareAndSwapObjectIdentityBased(t *testing.T) {
	cls := fakeClass{"java/lang/Object"}
	inst := NewInst(cls, []SlotKind{SlotRef})

	other := NewInst(cls, nil)
	wrongExpected := NewInst(cls, nil)

	ok, err := CompareAndSwapObject(inst, 0, wrongExpected, other)
	require.NoError(t, err)
	require.False(t, ok, "CAS must fail when expected value isn't acmpeq to current")

	ok, err = CompareAndSwapObject(inst, 0, Null, other)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := GetObjectVolatile(inst, 0)
	require.NoError(t, err)
	require.True(t, IfAcmpEq(got, other))
}

func TestArrayCopyBasic(t *testing.T) {
	src := NewArray("I", SlotInt, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, PutElement(src, i, NewInt(int32(i))))
	}
	dest := NewArray("I", SlotInt, 5)

	require.NoError(t, ArrayCopy(src, 1, dest, 0, 3))
	for i := 0; i < 3; i++ {
		v, err := GetElement(dest, i)
		require.NoError(t, err)
		n, _ := ExtractInt(v)
		require.Equal(t, int32(i+1), n)
	}
}

func TestArrayCopySameCellOverlapping(t *testing.T) {
	arr := NewArray("I", SlotInt, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, PutElement(arr, i, NewInt(int32(i))))
	}

	// Overlapping forward shift within the same cell: [0,1,2,3,4] copying
	// [0:3] to [1:4] must read the old values before writing (spec's
	// same-cell aliasing rule), giving [0,0,1,2,4].
	require.NoError(t, ArrayCopy(arr, 0, arr, 1, 3))
	want := []int32{0, 0, 1, 2, 4}
	for i, w := range want {
		v, err := GetElement(arr, i)
		require.NoError(t, err)
		n, _ := ExtractInt(v)
		require.Equal(t, w, n)
	}
}

func TestArrayCopyStringWidening(t *testing.T) {
	src := NewStr([]byte("hi"))
	dest := NewArray("I", SlotInt, 2)

	require.NoError(t, ArrayCopy(src, 0, dest, 0, 2))
	v0, _ := GetElement(dest, 0)
	n0, _ := ExtractInt(v0)
	require.Equal(t, int32('h'), n0)
}

func TestArrayCopyOutOfBounds(t *testing.T) {
	src := NewArray("I", SlotInt, 2)
	dest := NewArray("I", SlotInt, 2)
	err := ArrayCopy(src, 0, dest, 0, 3)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestArrayCopyNullSource(t *testing.T) {
	dest := NewArray("I", SlotInt, 2)
	err := ArrayCopy(Null, 0, dest, 0, 1)
	require.ErrorIs(t, err, ErrNullReference)
}
