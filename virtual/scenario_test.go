package virtual

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joselara-terraform/xc2ctl/device"
	"github.com/joselara-terraform/xc2ctl/registry"
)

// scenario S5 — virtual composite: parents HVL1.mes_temp[8] and
// HVL1.mes_temp[9] map to virtual regs t_shunt_ohm and
// t_shunt_water_out. Reading the virtual register set issues exactly
// one read of the parent array and projects elements 8 and 9
// respectively. Writing 320 to t_shunt_ohm is forwarded as a write of
// array index 8 on the parent.
func TestVirtualCompositeS5(t *testing.T) {
	hvl1, _ := newDiscoveredSession(t, "HVL1", hvl1Regs())

	eight, nine := 8, 9
	mappings := []Mapping{
		{VirtualName: "t_shunt_ohm", ParentName: "HVL1", RegName: "mes_temp", ArrayIndex: &eight},
		{VirtualName: "t_shunt_water_out", ParentName: "HVL1", RegName: "mes_temp", ArrayIndex: &nine},
	}
	parents := map[string]*device.Session{"HVL1": hvl1}

	v, err := New("virt1", nil, mappings, parents)
	require.NoError(t, err)
	require.Len(t, v.Regs, 2)

	values, err := v.ReadAllValues()
	require.NoError(t, err)
	require.EqualValues(t, 208, values["t_shunt_ohm"].Scalar().Uint)
	require.EqualValues(t, 209, values["t_shunt_water_out"].Scalar().Uint)

	require.NoError(t, v.Write("t_shunt_ohm", Value1(registry.Elem{Kind: registry.ElemUnsigned, Uint: 320})))

	got, err := hvl1.Regs.ReadByIndex(0)
	require.NoError(t, err)
	require.EqualValues(t, 320, got.Elems[8].Uint)
	require.EqualValues(t, 209, got.Elems[9].Uint, "sibling element untouched")
}

func TestVirtualCopyParentPrefix(t *testing.T) {
	hvl1, _ := newDiscoveredSession(t, "HVL1", hvl1Regs())
	eight := 8
	mappings := []Mapping{
		{VirtualName: "t_shunt_ohm", ParentName: "HVL1", RegName: "mes_temp", ArrayIndex: &eight},
	}
	parents := map[string]*device.Session{"HVL1": hvl1}

	v, err := New("virt1", hvl1, mappings, parents)
	require.NoError(t, err)
	require.Len(t, v.Regs, 2) // copy-parent's 1 reg + 1 mapped reg
	require.Equal(t, "mes_temp", v.Regs[0].Name)
	require.Equal(t, "t_shunt_ohm", v.Regs[1].Name)

	val, err := v.Read("mes_temp")
	require.NoError(t, err)
	require.Len(t, val.Elems, 16)
}

func TestVirtualArrayRangeMapping(t *testing.T) {
	hvl1, _ := newDiscoveredSession(t, "HVL1", hvl1Regs())
	a, b := 2, 5
	mappings := []Mapping{
		{VirtualName: "t_window", ParentName: "HVL1", RegName: "mes_temp", RangeStart: &a, RangeEnd: &b},
	}
	parents := map[string]*device.Session{"HVL1": hvl1}

	v, err := New("virt1", nil, mappings, parents)
	require.NoError(t, err)
	require.Equal(t, 4, v.Regs[0].ArraySize)

	val, err := v.Read("t_window")
	require.NoError(t, err)
	require.Len(t, val.Elems, 4)
	require.EqualValues(t, 202, val.Elems[0].Uint)
	require.EqualValues(t, 205, val.Elems[3].Uint)
}

func TestVirtualLifecycleFansOutAndClearsMetadata(t *testing.T) {
	hvl1, fd := newDiscoveredSession(t, "HVL1", hvl1Regs())
	eight := 8
	mappings := []Mapping{
		{VirtualName: "t_shunt_ohm", ParentName: "HVL1", RegName: "mes_temp", ArrayIndex: &eight},
	}
	parents := map[string]*device.Session{"HVL1": hvl1}

	v, err := New("virt1", nil, mappings, parents)
	require.NoError(t, err)

	require.NoError(t, v.Reset())
	require.Equal(t, 1, fd.resets)
	require.Empty(t, v.Regs)
}

func TestVirtualGetEchoDisagreement(t *testing.T) {
	hvl1, fd1 := newDiscoveredSession(t, "HVL1", hvl1Regs())
	hvl2, fd2 := newDiscoveredSession(t, "HVL2", hvl1Regs())
	fd1.echoValue = 2
	fd2.echoValue = 1

	eight := 8
	mappings := []Mapping{
		{VirtualName: "a", ParentName: "HVL1", RegName: "mes_temp", ArrayIndex: &eight},
		{VirtualName: "b", ParentName: "HVL2", RegName: "mes_temp", ArrayIndex: &eight},
	}
	parents := map[string]*device.Session{"HVL1": hvl1, "HVL2": hvl2}

	v, err := New("virt1", nil, mappings, parents)
	require.NoError(t, err)

	echo, err := v.GetEcho()
	require.NoError(t, err)
	require.Equal(t, 0, echo, "parents disagree, so get_echo returns 0")
}
