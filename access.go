package vksync

import "fmt"

// Stage is a bitmask of pipeline stages, a portable subset of the native
// pipeline stage flags.
type Stage uint32

const (
	StageNone                  Stage = 0
	StageTopOfPipe             Stage = 1 << 0
	StageDrawIndirect          Stage = 1 << 1
	StageVertexInput           Stage = 1 << 2
	StageVertexShader          Stage = 1 << 3
	StageFragmentShader        Stage = 1 << 4
	StageEarlyFragmentTests    Stage = 1 << 5
	StageLateFragmentTests     Stage = 1 << 6
	StageColorAttachmentOutput Stage = 1 << 7
	StageComputeShader         Stage = 1 << 8
	StageTransfer              Stage = 1 << 9
	StageHost                  Stage = 1 << 10
	StageBottomOfPipe          Stage = 1 << 11
	StageAllCommands           Stage = 1 << 12
)

// Access is a bitmask of memory access types, a portable subset of the native
// access flags.
type Access uint32

const (
	AccessNone                 Access = 0
	AccessIndirectCommandRead  Access = 1 << 0
	AccessIndexRead            Access = 1 << 1
	AccessVertexAttributeRead  Access = 1 << 2
	AccessUniformRead          Access = 1 << 3
	AccessShaderRead           Access = 1 << 4
	AccessShaderWrite          Access = 1 << 5
	AccessColorAttachmentRead  Access = 1 << 6
	AccessColorAttachmentWrite Access = 1 << 7
	AccessDepthStencilRead     Access = 1 << 8
	AccessDepthStencilWrite    Access = 1 << 9
	AccessTransferRead         Access = 1 << 10
	AccessTransferWrite        Access = 1 << 11
	AccessHostRead             Access = 1 << 12
	AccessHostWrite            Access = 1 << 13
	AccessMemoryRead           Access = 1 << 14
	AccessMemoryWrite          Access = 1 << 15
)

const writeAccessMask = AccessShaderWrite | AccessColorAttachmentWrite |
	AccessDepthStencilWrite | AccessTransferWrite | AccessHostWrite | AccessMemoryWrite

// HasWrite reports whether the mask contains any write access.
func (a Access) HasWrite() bool {
	return a&writeAccessMask != 0
}

// Layout is the logical layout of an image resource. Buffers and other
// resource kinds always stay in LayoutUndefined.
type Layout int32

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

// AccessRecord is the most recent access made to a resource: which stages
// touched it, with what access masks, in which layout, on which queue. It is
// consulted and updated by recordAccess under the resource's lock.
type AccessRecord struct {
	Stage  Stage
	Access Access
	Layout Layout
	Queue  QueueID
}

// Barrier is a synchronization directive between a prior access (Src) and a
// new one (Dst) on a single resource. For image resources it may additionally
// carry a layout transition.
type Barrier struct {
	Handle    Handle
	Kind      ResourceKind
	SrcStage  Stage
	SrcAccess Access
	DstStage  Stage
	DstAccess Access
	OldLayout Layout
	NewLayout Layout
}

func (b Barrier) String() string {
	return fmt.Sprintf("{%v src %#x/%#x dst %#x/%#x layout %d->%d}",
		b.Kind, b.SrcStage, b.SrcAccess, b.DstStage, b.DstAccess, b.OldLayout, b.NewLayout)
}
