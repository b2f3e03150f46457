//go:build atmi

// Package atmi drives AMD GPUs through the ATMI runtime and its HSA interop
// layer.
package atmi

/*
#cgo CFLAGS: -I/opt/rocm/include -I/opt/rocm/atmi/include
#cgo LDFLAGS: -L/opt/rocm/lib -L/opt/rocm/atmi/lib -latmi_runtime -lhsa-runtime64

#include <stdint.h>
#include <stdlib.h>
#include <hsa.h>
#include <hsa_ext_amd.h>
#include <atmi_runtime.h>
#include <atmi_interop_hsa.h>

#define OFFLOAD_ATTR_COMPUTE_UNITS 0
#define OFFLOAD_ATTR_WORKGROUP_MAX_DIM 1
#define OFFLOAD_ATTR_WAVEFRONT 2

static int offloadInit(void) {
	return (int)atmi_init(ATMI_DEVTYPE_ALL);
}

static int offloadFinalize(void) {
	return (int)atmi_finalize();
}

static int offloadDeviceCount(void) {
	atmi_machine_t *machine = atmi_machine_get_info();
	if (machine == NULL) {
		return 0;
	}
	return (int)machine->device_count_by_type[ATMI_DEVTYPE_GPU];
}

static int offloadDeviceInfo(int device, int attr, uint32_t *out) {
	hsa_agent_t agent;
	atmi_status_t err = atmi_interop_hsa_get_agent((atmi_place_t)ATMI_PLACE_GPU(0, device), &agent);
	if (err != ATMI_STATUS_SUCCESS) {
		return (int)err;
	}
	hsa_status_t st;
	switch (attr) {
	case OFFLOAD_ATTR_COMPUTE_UNITS:
		st = hsa_agent_get_info(agent, (hsa_agent_info_t)HSA_AMD_AGENT_INFO_COMPUTE_UNIT_COUNT, out);
		break;
	case OFFLOAD_ATTR_WORKGROUP_MAX_DIM: {
		uint16_t dims[3];
		st = hsa_agent_get_info(agent, HSA_AGENT_INFO_WORKGROUP_MAX_DIM, dims);
		*out = dims[0];
		break;
	}
	case OFFLOAD_ATTR_WAVEFRONT:
		st = hsa_agent_get_info(agent, HSA_AGENT_INFO_WAVEFRONT_SIZE, out);
		break;
	default:
		return -1;
	}
	return st == HSA_STATUS_SUCCESS ? 0 : (int)st;
}

static int offloadRegisterModule(void *image, size_t size, int brig) {
	atmi_platform_type_t platform = brig ? BRIG : AMDGCN;
	return (int)atmi_module_register_from_memory(&image, &size, &platform, 1);
}

static int offloadSymbolInfo(int device, const char *name, uint64_t *addr, unsigned int *size) {
	void *ptr = NULL;
	atmi_mem_place_t place = ATMI_MEM_PLACE_GPU_MEM(0, device, 0);
	atmi_status_t err = atmi_interop_hsa_get_symbol_info(place, name, &ptr, size);
	*addr = (uint64_t)(uintptr_t)ptr;
	return (int)err;
}

static int offloadMalloc(int device, size_t size, uint64_t *addr) {
	void *ptr = NULL;
	atmi_mem_place_t place = ATMI_MEM_PLACE_GPU_MEM(0, device, 0);
	atmi_status_t err = atmi_malloc(&ptr, size, place);
	*addr = (uint64_t)(uintptr_t)ptr;
	return (int)err;
}

static int offloadFree(uint64_t addr) {
	return (int)atmi_free((void *)(uintptr_t)addr);
}

static int offloadCopyToDevice(uint64_t dst, const void *src, size_t size) {
	return (int)atmi_memcpy((void *)(uintptr_t)dst, src, size);
}

static int offloadCopyFromDevice(void *dst, uint64_t src, size_t size) {
	return (int)atmi_memcpy(dst, (const void *)(uintptr_t)src, size);
}

static int offloadKernelCreate(atmi_kernel_t *kernel, int nargs, const size_t *sizes) {
	return (int)atmi_kernel_create_empty(kernel, nargs, sizes);
}

static int offloadKernelAddGPUImpl(atmi_kernel_t kernel, const char *name, unsigned int id) {
	return (int)atmi_kernel_add_gpu_impl(kernel, name, id);
}

static int offloadKernelRelease(atmi_kernel_t kernel) {
	return (int)atmi_kernel_release(kernel);
}

static int offloadLaunch(atmi_kernel_t kernel, int device, unsigned long grid, unsigned long group,
		int groupable, int kernel_id, void **args) {
	ATMI_LPARM_1D(lparm, grid);
	lparm->groupDim[0] = group;
	lparm->synchronous = ATMI_TRUE;
	lparm->groupable = groupable ? ATMI_TRUE : ATMI_FALSE;
	lparm->kernel_id = kernel_id;
	lparm->place = (atmi_place_t)ATMI_PLACE_GPU(0, device);
	atmi_task_handle_t task = atmi_task_launch(lparm, kernel, args);
	return task == ATMI_NULL_TASK_HANDLE ? -1 : 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/samcharles93/offload/internal/accel"
)

var errReleased = errors.New("atmi: kernel handle released")

// Runtime implements accel.Runtime on ATMI.
type Runtime struct{}

func New() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Init() error {
	return atmiErr("init", C.offloadInit())
}

func (r *Runtime) Finalize() error {
	return atmiErr("finalize", C.offloadFinalize())
}

func (r *Runtime) DeviceCount() int {
	return int(C.offloadDeviceCount())
}

func (r *Runtime) DeviceInfo(device int, attr accel.Attribute) (uint32, error) {
	var code C.int
	switch attr {
	case accel.AttrComputeUnitCount:
		code = C.OFFLOAD_ATTR_COMPUTE_UNITS
	case accel.AttrWorkgroupMaxDimX:
		code = C.OFFLOAD_ATTR_WORKGROUP_MAX_DIM
	case accel.AttrWavefrontSize:
		code = C.OFFLOAD_ATTR_WAVEFRONT
	default:
		return 0, fmt.Errorf("atmi: unsupported attribute %s", attr)
	}
	var out C.uint32_t
	if err := atmiErr("agent info", C.offloadDeviceInfo(C.int(device), code, &out)); err != nil {
		return 0, err
	}
	return uint32(out), nil
}

func (r *Runtime) RegisterModule(image []byte, platform accel.Platform) error {
	if len(image) == 0 {
		return fmt.Errorf("atmi: empty module")
	}
	// The runtime keeps no reference once registration returns.
	buf := C.CBytes(image)
	defer C.free(buf)
	brig := C.int(0)
	if platform == accel.PlatformBRIG {
		brig = 1
	}
	return atmiErr("register module", C.offloadRegisterModule(buf, C.size_t(len(image)), brig))
}

func (r *Runtime) SymbolInfo(device int, name string) (accel.DevicePtr, uint32, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var addr C.uint64_t
	var size C.uint
	if code := C.offloadSymbolInfo(C.int(device), cname, &addr, &size); code != 0 {
		return 0, 0, fmt.Errorf("%w: %s (status %d)", accel.ErrSymbolNotFound, name, int(code))
	}
	return accel.DevicePtr(addr), uint32(size), nil
}

func (r *Runtime) Malloc(device int, size int64) (accel.DevicePtr, error) {
	if size < 0 {
		return 0, fmt.Errorf("atmi: negative allocation size %d", size)
	}
	var addr C.uint64_t
	if err := atmiErr("malloc", C.offloadMalloc(C.int(device), C.size_t(size), &addr)); err != nil {
		return 0, err
	}
	return accel.DevicePtr(addr), nil
}

func (r *Runtime) Free(ptr accel.DevicePtr) error {
	return atmiErr("free", C.offloadFree(C.uint64_t(ptr)))
}

func (r *Runtime) CopyToDevice(dst accel.DevicePtr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	return atmiErr("memcpy h2d", C.offloadCopyToDevice(C.uint64_t(dst), unsafe.Pointer(&src[0]), C.size_t(len(src))))
}

func (r *Runtime) CopyFromDevice(dst []byte, src accel.DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	return atmiErr("memcpy d2h", C.offloadCopyFromDevice(unsafe.Pointer(&dst[0]), C.uint64_t(src), C.size_t(len(dst))))
}

func (r *Runtime) CreateKernel(argSizes []uintptr) (accel.Kernel, error) {
	k := &kernel{nargs: len(argSizes)}
	var sizes *C.size_t
	if len(argSizes) > 0 {
		csizes := make([]C.size_t, len(argSizes))
		for i, s := range argSizes {
			csizes[i] = C.size_t(s)
		}
		sizes = &csizes[0]
	}
	if err := atmiErr("kernel create", C.offloadKernelCreate(&k.h, C.int(len(argSizes)), sizes)); err != nil {
		return nil, err
	}
	return k, nil
}

type kernel struct {
	h        C.atmi_kernel_t
	nargs    int
	released bool
}

func (k *kernel) AddGPUImpl(name string, id int) error {
	if k.released {
		return errReleased
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return atmiErr("add gpu impl", C.offloadKernelAddGPUImpl(k.h, cname, C.uint(id)))
}

func (k *kernel) Launch(p accel.LaunchParams, args []uint64) error {
	if k.released {
		return errReleased
	}
	if len(args) != k.nargs {
		return fmt.Errorf("atmi: kernel expects %d arguments, got %d", k.nargs, len(args))
	}
	if !p.Synchronous {
		return fmt.Errorf("atmi: only synchronous launches are supported")
	}

	// Argument values and the pointer table live in C memory for the call.
	n := max(len(args), 1)
	vals := (*[1 << 20]C.uint64_t)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.uint64_t(0)))))[:n:n]
	defer C.free(unsafe.Pointer(&vals[0]))
	ptrs := (*[1 << 20]unsafe.Pointer)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0)))))[:n:n]
	defer C.free(unsafe.Pointer(&ptrs[0]))
	for i, a := range args {
		vals[i] = C.uint64_t(a)
		ptrs[i] = unsafe.Pointer(&vals[i])
	}

	groupable := C.int(0)
	if p.Groupable {
		groupable = 1
	}
	return atmiErr("launch", C.offloadLaunch(k.h, C.int(p.Device),
		C.ulong(p.GridDim[0]), C.ulong(p.GroupDim[0]), groupable, C.int(p.KernelID), &ptrs[0]))
}

func (k *kernel) Release() error {
	if k.released {
		return errReleased
	}
	k.released = true
	return atmiErr("kernel release", C.offloadKernelRelease(k.h))
}

func atmiErr(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("atmi %s: status %d", op, int(code))
}
